package programmer_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/sonicator-hil/internal/config"
	"github.com/askiada/sonicator-hil/internal/procexec"
	"github.com/askiada/sonicator-hil/internal/programmer"
)

const validHex = `:100000000C942A000C9434000C9434000C943400AA
:00000001FF
`

type recorder struct {
	cmds    []procexec.Cmd
	results []procexec.Result
}

func (r *recorder) Run(_ context.Context, c procexec.Cmd) (procexec.Result, error) {
	r.cmds = append(r.cmds, c)
	if len(r.results) == 0 {
		return procexec.Result{}, nil
	}
	res := r.results[0]
	r.results = r.results[1:]

	return res, nil
}

func newProgrammer(t *testing.T, results ...procexec.Result) (*programmer.Programmer, *recorder, *[]string) {
	t.Helper()

	settings, err := config.Load("", nil)
	require.NoError(t, err)
	settings.Programmer.Port = "/dev/ttyACM0"

	rec := &recorder{results: results}
	released := &[]string{}
	p := &programmer.Programmer{
		Settings: settings.Programmer,
		Runner:   rec,
		Release: func(_ context.Context, port string, _ int) error {
			*released = append(*released, port)

			return nil
		},
	}

	return p, rec, released
}

func TestReadSignature(t *testing.T) {
	t.Parallel()

	p, rec, released := newProgrammer(t, procexec.Result{Output: "avrdude: Device signature = 0x1e9502 (probably m32)\n"})
	sig, err := p.ReadSignature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, programmer.ATmega32ASignature, sig)
	require.Len(t, rec.cmds, 1)
	assert.Equal(t, "avrdude -c stk500v1 -p m32 -P /dev/ttyACM0 -b 19200", rec.cmds[0].String())
	assert.Equal(t, []string{"/dev/ttyACM0"}, *released)
}

func TestReadSignatureMismatch(t *testing.T) {
	t.Parallel()

	p, _, _ := newProgrammer(t, procexec.Result{Output: "Device signature = 0x1e950f"})
	sig, err := p.ReadSignature(context.Background())
	assert.ErrorIs(t, err, programmer.ErrSignatureMismatch)
	assert.Equal(t, "1E950F", sig)

	p, _, _ = newProgrammer(t, procexec.Result{Output: "nothing useful"})
	_, err = p.ReadSignature(context.Background())
	assert.ErrorIs(t, err, programmer.ErrNoSignature)
}

func TestToolFailure(t *testing.T) {
	t.Parallel()

	p, _, _ := newProgrammer(t, procexec.Result{ExitCode: 1, Output: "avrdude: stk500_getsync(): not in sync"})
	err := p.Erase(context.Background())
	require.ErrorIs(t, err, programmer.ErrToolFailed)
	assert.Contains(t, err.Error(), "not in sync")

	p, _, _ = newProgrammer(t, procexec.Result{TimedOut: true, ExitCode: -1})
	assert.ErrorIs(t, p.Erase(context.Background()), programmer.ErrToolFailed)
}

func TestWriteFuses(t *testing.T) {
	t.Parallel()

	p, rec, _ := newProgrammer(t)
	require.NoError(t, p.WriteFuses(context.Background()))
	require.Len(t, rec.cmds, 1)
	assert.True(t, strings.HasSuffix(rec.cmds[0].String(), "-U lfuse:w:0xE4:m -U hfuse:w:0xD9:m"))
}

func TestFlash(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "firmware.hex")
	require.NoError(t, os.WriteFile(good, []byte(validHex), 0o644))
	bad := filepath.Join(dir, "broken.hex")
	require.NoError(t, os.WriteFile(bad, []byte(":100000000C942A000C9434000C9434000C943400AB\n:00000001FF\n"), 0o644))

	p, rec, _ := newProgrammer(t)
	info, err := p.Flash(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, 16, info.DataBytes)
	require.Len(t, rec.cmds, 1)
	assert.Contains(t, rec.cmds[0].Args, "flash:w:"+good+":i")

	_, err = p.Flash(context.Background(), bad)
	assert.ErrorIs(t, err, programmer.ErrInvalidHex)
	assert.Len(t, rec.cmds, 1)
}

func TestInstallISP(t *testing.T) {
	t.Parallel()

	p, rec, released := newProgrammer(t)
	require.NoError(t, p.InstallISP(context.Background(), "sketches/ArduinoISP"))
	require.Len(t, rec.cmds, 2)
	assert.Equal(t, "arduino-cli compile --fqbn arduino:avr:uno sketches/ArduinoISP", rec.cmds[0].String())
	assert.Equal(t, "arduino-cli upload -p /dev/ttyACM0 --fqbn arduino:avr:uno sketches/ArduinoISP", rec.cmds[1].String())
	assert.Len(t, *released, 1)
}

func TestValidateHex(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		in      string
		wantErr bool
		end     uint32
	}{
		"valid":           {in: validHex, end: 16},
		"extended linear": {in: ":020000040001F9\n:0100000055AA\n:00000001FF\n", end: 0x10001},
		"missing eof":     {in: ":100000000C942A000C9434000C9434000C943400AA\n", wantErr: true},
		"no start code":   {in: "100000000C942A000C9434000C9434000C943400AA\n:00000001FF\n", wantErr: true},
		"bad length":      {in: ":0500000001FA\n:00000001FF\n", wantErr: true},
		"after eof":       {in: ":00000001FF\n:0100000055AA\n", wantErr: true},
	}
	for name, tc := range tcs {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			info, err := programmer.ValidateHex(strings.NewReader(tc.in))
			if tc.wantErr {
				assert.ErrorIs(t, err, programmer.ErrInvalidHex)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.end, info.End)
		})
	}
}
