package qemu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResult_Argv(t *testing.T) {
	tests := []struct {
		name string
		args []Argument
		want []string
	}{
		{
			name: "switch has no value",
			args: []Argument{{Flag: "-usb", Switch: true}, {Flag: "-m", Value: "size=1024M"}},
			want: []string{"-usb", "-m", "size=1024M"},
		},
		{
			name: "empty value keeps its slot",
			args: []Argument{{Flag: "-append", Value: ""}, {Flag: "-S", Switch: true}},
			want: []string{"-append", "", "-S"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &Result{Args: tt.args}
			assert.Equal(t, tt.want, res.Argv())
		})
	}
}

func TestSynthesisContext_AddFlagIsSwitch(t *testing.T) {
	c := &SynthesisContext{}
	c.addFlag("-no-shutdown")
	c.add("-append", "")

	assert.Equal(t, []Argument{
		{Flag: "-no-shutdown", Switch: true},
		{Flag: "-append"},
	}, c.args)
	assert.Equal(t, "-no-shutdown", c.args[0].String())
	assert.Equal(t, "-append ", c.args[1].String())
}
