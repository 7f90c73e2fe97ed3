package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/girasol/internal/errdefs"
	"github.com/majorcontext/girasol/internal/model"
)

var testTools = Tools{Stap: "/usr/bin/stap", Perf: "/usr/bin/perf"}

func TestResolvePerfBranch(t *testing.T) {
	tests := []struct {
		name string
		freq model.Frequency
		want []string
	}{
		{"default", model.FrequencyDefault(), []string{"record", "-b", "-o", "/tmp/out.data", "--", "/bin/app", "-x"}},
		{"zero value", model.Frequency{}, []string{"record", "-b", "-o", "/tmp/out.data", "--", "/bin/app", "-x"}},
		{"max", model.FrequencyMax(), []string{"record", "-b", "-o", "/tmp/out.data", "-F", "max", "--", "/bin/app", "-x"}},
		{"specific", model.FrequencySpecific(4000), []string{"record", "-b", "-o", "/tmp/out.data", "-F", "4000", "--", "/bin/app", "-x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := model.TraceDefinition{Name: "p", Interval: 1, Content: &model.PerfBranch{
				Frequency:      tt.freq,
				AbsolutePath:   "/bin/app",
				AdditionalArgs: []string{"-x"},
			}}
			inv, err := Resolve(def, testTools, "/tmp/out.data")
			require.NoError(t, err)
			assert.Equal(t, "/usr/bin/perf", inv.Path)
			assert.Equal(t, tt.want, inv.Args)
			assert.Empty(t, inv.Env)
		})
	}
}

func TestResolveSystemTap(t *testing.T) {
	def := model.TraceDefinition{Name: "s", Interval: 1, Content: &model.SystemTap{
		FunctionList: []string{"main", "handle_request"},
		Process:      "/srv/app",
		Args:         []string{"--port", "80 80"},
		Envs:         []model.Env{{Key: "MODE", Value: "trace"}},
	}}
	inv, err := Resolve(def, testTools, "")
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/stap", inv.Path)
	require.Len(t, inv.Args, 5)
	assert.Equal(t, "-v", inv.Args[0])
	assert.Equal(t, "-e", inv.Args[1])
	assert.Contains(t, inv.Args[2], `probe process("/srv/app").function("main")`)
	assert.Contains(t, inv.Args[2], `probe process("/srv/app").function("handle_request")`)
	assert.Contains(t, inv.Args[2], `printf("%s %s\n", probefunc(), $$parms)`)
	assert.Equal(t, "-c", inv.Args[3])
	assert.Equal(t, "/srv/app --port '80 80'", inv.Args[4])
	assert.Equal(t, []string{"MODE=trace"}, inv.Env)
}

func TestResolveWithoutContent(t *testing.T) {
	_, err := Resolve(model.TraceDefinition{Name: "x"}, testTools, "")
	assert.ErrorIs(t, err, errdefs.ErrInvalid)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "plain-arg", shellQuote("plain-arg"))
	assert.Equal(t, "''", shellQuote(""))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t, "'a b'", shellQuote("a b"))
}
