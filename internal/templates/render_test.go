package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		in   string
		vars map[string]string
		want string
	}{
		{
			name: "no vars",
			in:   "Hello ___NAME___",
			vars: nil,
			want: "Hello ___NAME___",
		},
		{
			name: "single placeholder",
			in:   "Hello ___NAME___",
			vars: map[string]string{"___NAME___": "Ada"},
			want: "Hello Ada",
		},
		{
			name: "repeated placeholder",
			in:   "___NAME___ and ___NAME___",
			vars: map[string]string{"___NAME___": "Ada"},
			want: "Ada and Ada",
		},
		{
			name: "unknown placeholders survive",
			in:   "___NAME___ from ___CITY___",
			vars: map[string]string{"___NAME___": "Ada"},
			want: "Ada from ___CITY___",
		},
		{
			name: "empty input",
			in:   "",
			vars: map[string]string{"___NAME___": "Ada"},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.in, tt.vars))
		})
	}
}
