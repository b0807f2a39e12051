package session

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/gpuslot/internal/logging"
)

// fakeTmux re-executes the test binary as a stand-in for tmux. The helper
// behaviour is selected by the first tmux subcommand.
func fakeTmux(t *testing.T, scenario string) *Tmux {
	t.Helper()
	return &Tmux{
		binary: "tmux",
		command: func(ctx context.Context, name string, args ...string) *exec.Cmd {
			cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
			cmd := exec.CommandContext(ctx, os.Args[0], cs...)
			cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "TMUX_SCENARIO="+scenario)
			return cmd
		},
		log: logging.Discard(),
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	args = args[1:] // drop "--"
	sub := args[1]
	scenario := os.Getenv("TMUX_SCENARIO")

	switch sub {
	case "list-sessions":
		if scenario == "no-server" {
			fmt.Fprintln(os.Stderr, "no server running on /tmp/tmux-0/default")
			os.Exit(1)
		}
		fmt.Println("gpuslot-a")
		fmt.Println("gpuslot-b")
		fmt.Println("other")
	case "new-session":
		if scenario == "duplicate" {
			fmt.Fprintln(os.Stderr, "duplicate session: gpuslot-a")
			os.Exit(1)
		}
		// Expect: new-session -d -s <name> -- <argv...>
		if len(args) < 7 || args[2] != "-d" || args[3] != "-s" || args[5] != "--" {
			fmt.Fprintf(os.Stderr, "bad args: %v\n", args)
			os.Exit(2)
		}
	case "kill-session":
		if !strings.HasPrefix(args[3], "=") {
			os.Exit(2)
		}
	case "list-panes":
		fmt.Println("31337")
	default:
		os.Exit(3)
	}
	os.Exit(0)
}

func TestTmuxList(t *testing.T) {
	names := fakeTmux(t, "").List(context.Background())
	assert.Equal(t, NewNames("gpuslot-a", "gpuslot-b", "other"), names)
	assert.Equal(t, []string{"gpuslot-a", "gpuslot-b"}, names.WithPrefix("gpuslot-"))
}

func TestTmuxListNoServerIsEmpty(t *testing.T) {
	names := fakeTmux(t, "no-server").List(context.Background())
	assert.Empty(t, names)
}

func TestTmuxSpawn(t *testing.T) {
	launch := fakeTmux(t, "").Spawn(context.Background(), "gpuslot-a", []string{"sh", "-c", "echo 'hi'; exit 1"})
	assert.NoError(t, launch.Wait())
	// Wait is idempotent
	assert.NoError(t, launch.Wait())
}

func TestTmuxSpawnFailure(t *testing.T) {
	launch := fakeTmux(t, "duplicate").Spawn(context.Background(), "gpuslot-a", []string{"true"})
	err := launch.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate session")
}

func TestTmuxSpawnEmptyArgv(t *testing.T) {
	launch := fakeTmux(t, "").Spawn(context.Background(), "gpuslot-a", nil)
	assert.Error(t, launch.Wait())
}

func TestTmuxKillAndPanePID(t *testing.T) {
	tm := fakeTmux(t, "")
	assert.NoError(t, tm.Kill(context.Background(), "gpuslot-a"))

	pid, err := tm.PanePID(context.Background(), "gpuslot-a")
	require.NoError(t, err)
	assert.Equal(t, 31337, pid)
}

func TestParseNames(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want Names
	}{
		{"format flag", "a\nb\n", NewNames("a", "b")},
		{"default format", "gpuslot-x: 1 windows (created Mon Jan  1 00:00:00 2024)\n", NewNames("gpuslot-x")},
		{"blank lines", "\n\n", NewNames()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseNames([]byte(tt.out))
			if len(got) != len(tt.want) {
				t.Fatalf("parseNames(%q) = %v, want %v", tt.out, got, tt.want)
			}
			for n := range tt.want {
				if !got.Has(n) {
					t.Errorf("parseNames(%q) missing %q", tt.out, n)
				}
			}
		})
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		prefix, id, want string
	}{
		{"gpuslot", "train-a", "gpuslot-train-a"},
		{"submas", "lr0.1", "submas-lr0_1"},
		{"gpuslot", "exp:2", "gpuslot-exp_2"},
	}
	for _, tt := range tests {
		if got := Name(tt.prefix, tt.id); got != tt.want {
			t.Errorf("Name(%q, %q) = %q, want %q", tt.prefix, tt.id, got, tt.want)
		}
	}
}
