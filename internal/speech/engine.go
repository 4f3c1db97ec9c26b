package speech

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// Engine is an on-device synthesizer. An empty voice means the engine default.
type Engine interface {
	Voices(ctx context.Context) ([]string, error)
	Speak(ctx context.Context, text, voice string, p Params) error
}

// ErrNoEngine is returned when no supported speech command is installed
var ErrNoEngine = errors.New("no local speech command found (install espeak-ng, espeak, or use macOS say)")

// MissingEngine fails every call with ErrNoEngine. It stands in for the local
// engine when no speech command is installed so remote speech still works.
type MissingEngine struct{}

// Voices always fails
func (MissingEngine) Voices(context.Context) ([]string, error) { return nil, ErrNoEngine }

// Speak always fails
func (MissingEngine) Speak(context.Context, string, string, Params) error { return ErrNoEngine }

// CommandEngine runs a speech command (espeak-ng, espeak or say)
type CommandEngine struct {
	path string
	kind string
}

// DetectEngine picks the local speech command. An empty command tries the
// platform defaults.
func DetectEngine(command string) (*CommandEngine, error) {
	candidates := []string{command}
	if command == "" {
		candidates = []string{"espeak-ng", "espeak"}
		if runtime.GOOS == "darwin" {
			candidates = []string{"say"}
		}
	}

	for _, name := range candidates {
		path, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		kind := "espeak"
		if strings.HasSuffix(path, "say") {
			kind = "say"
		}
		return &CommandEngine{path: path, kind: kind}, nil
	}
	return nil, ErrNoEngine
}

// Voices lists the voice names the command accepts
func (e *CommandEngine) Voices(ctx context.Context) ([]string, error) {
	var cmd *exec.Cmd
	if e.kind == "say" {
		cmd = exec.CommandContext(ctx, e.path, "-v", "?")
	} else {
		cmd = exec.CommandContext(ctx, e.path, "--voices")
	}

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	if e.kind == "say" {
		return parseSayVoices(string(out)), nil
	}
	return parseEspeakVoices(string(out)), nil
}

// Speak runs the command and waits for it to finish speaking
func (e *CommandEngine) Speak(ctx context.Context, text, voice string, p Params) error {
	cmd := exec.CommandContext(ctx, e.path, e.args(text, voice, p)...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", e.kind, err)
	}
	return nil
}

func (e *CommandEngine) args(text, voice string, p Params) []string {
	var args []string
	if e.kind == "say" {
		if voice != "" {
			args = append(args, "-v", voice)
		}
		args = append(args, "-r", strconv.Itoa(int(175*clamp(p.Rate, 0.1, 10))))
		// say has no volume flag; it takes an embedded volume command instead.
		return append(args, fmt.Sprintf("[[volm %.2f]] %s", clamp(p.Volume, 0, 1), text))
	}

	if voice != "" {
		args = append(args, "-v", voice)
	}
	args = append(args,
		"-a", strconv.Itoa(int(100*clamp(p.Volume, 0, 1))),
		"-s", strconv.Itoa(int(175*clamp(p.Rate, 0.1, 10))),
		"-p", strconv.Itoa(int(clamp(50*p.Pitch, 0, 99))),
		"--", text,
	)
	return args
}

// parseEspeakVoices reads the language column of `espeak-ng --voices`:
//
//	Pty Language       Age/Gender VoiceName          File          Other Languages
//	 5  af              --/M      Afrikaans          gmw/af
func parseEspeakVoices(out string) []string {
	var voices []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] == "Pty" {
			continue
		}
		voices = append(voices, fields[1])
	}
	return voices
}

// parseSayVoices reads `say -v ?`, where names may contain spaces:
//
//	Bad News            en_US    # The light you see at the end of the tunnel...
func parseSayVoices(out string) []string {
	var voices []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		voices = append(voices, strings.Join(fields[:len(fields)-1], " "))
	}
	return voices
}
