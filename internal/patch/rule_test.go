package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRule_Transform(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		in      string
		want    string
		wantRes Result
	}{
		{
			name:    "delete lines",
			rule:    DeleteLines("PROJECT_REVISION"),
			in:      "QUARTUS_VERSION = \"23.4\"\nPROJECT_REVISION = \"ofs_top\"\nPROJECT_REVISION = \"afu\"\n",
			want:    "QUARTUS_VERSION = \"23.4\"\n",
			wantRes: Result{LinesRemoved: 2},
		},
		{
			name:    "delete lines is case sensitive",
			rule:    DeleteLines("SOURCE"),
			in:      "source a\nSOURCE b\n",
			want:    "source a\n",
			wantRes: Result{LinesRemoved: 1},
		},
		{
			name: "delete lines keeps crlf and missing final terminator",
			rule: DeleteLines("drop"),
			in:   "keep 1\r\ndrop me\r\nkeep 2\nlast",
			want: "keep 1\r\nkeep 2\nlast",
			wantRes: Result{
				LinesRemoved: 1,
			},
		},
		{
			name:    "delete last unterminated line",
			rule:    DeleteLines("tail"),
			in:      "head\ntail",
			want:    "head\n",
			wantRes: Result{LinesRemoved: 1},
		},
		{
			name:    "delete lines no match",
			rule:    DeleteLines("absent"),
			in:      "a\nb\n",
			want:    "a\nb\n",
			wantRes: Result{},
		},
		{
			name:    "delete lines dotdot needle",
			rule:    DeleteLines(".."),
			in:      "set_global_assignment -name SOURCE ../../x.tcl\nset_instance_assignment -name IO\n",
			want:    "set_instance_assignment -name IO\n",
			wantRes: Result{LinesRemoved: 1},
		},
		{
			name:    "replace in lines replaces every occurrence in the line",
			rule:    ReplaceInLines("ofs_top", "afu_flat"),
			in:      "ofs_top ofs_top\nother\nofs_top\n",
			want:    "afu_flat afu_flat\nother\nafu_flat\n",
			wantRes: Result{LinesChanged: 2, Replacements: 3},
		},
		{
			name:    "replace in lines keeps terminators",
			rule:    ReplaceInLines("a", "bb"),
			in:      "a\r\nc\na",
			want:    "bb\r\nc\nbb",
			wantRes: Result{LinesChanged: 2, Replacements: 2},
		},
		{
			name:    "replace all spans lines",
			rule:    ReplaceAll("x\ny", "z"),
			in:      "x\ny\nx\ny",
			want:    "z\nz",
			wantRes: Result{Replacements: 2},
		},
		{
			name:    "replace all no match",
			rule:    ReplaceAll("q", "r"),
			in:      "abc",
			want:    "abc",
			wantRes: Result{},
		},
		{
			name:    "empty content",
			rule:    DeleteLines("x"),
			in:      "",
			want:    "",
			wantRes: Result{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, res := tt.rule.transform([]byte(tt.in))
			assert.Equal(t, tt.want, string(out))
			assert.Equal(t, tt.wantRes, res)
		})
	}
}

func TestRule_Validate(t *testing.T) {
	assert.ErrorIs(t, DeleteLines("").Validate(), ErrInvalidRule)
	assert.ErrorIs(t, ReplaceInLines("", "x").Validate(), ErrInvalidRule)
	assert.ErrorIs(t, ReplaceAll("", "x").Validate(), ErrInvalidRule)
	assert.ErrorIs(t, Rule{Kind: "sort"}.Validate(), ErrInvalidRule)

	assert.NoError(t, Append().Validate())
	assert.NoError(t, ReplaceAll("a", "").Validate())
}

func TestRule_SelfMatching(t *testing.T) {
	assert.True(t, ReplaceAll("top", "ofs_top").selfMatching())
	assert.False(t, ReplaceAll("ofs_top", "top").selfMatching())
	assert.False(t, DeleteLines("x").selfMatching())
}
