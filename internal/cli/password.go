package cli

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/talentx/authcore/internal/format"
	"github.com/talentx/authcore/password"
)

// readSecret takes the first argument, or one line of stdin when there is
// none, so secrets can stay out of shell history.
func readSecret(in io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	sc := bufio.NewScanner(in)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", errors.New("no password given")
	}
	return strings.TrimRight(sc.Text(), "\r"), nil
}

func newHashPasswordCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Hash a password with the configured algorithm",
		Long: `Print the hash the engine would store for a password. Reads stdin
when no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readSecret(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			cfg, err := g.file.Engine()
			if err != nil {
				return err
			}
			hasher, err := password.New(cfg.HasherOptions())
			if err != nil {
				return err
			}
			hash, err := hasher.Hash(pw)
			if err != nil {
				return err
			}
			return g.printer.Print(hashResult{Algorithm: cfg.Password.Algorithm, Hash: hash})
		},
	}
}

type hashResult struct {
	Algorithm string `json:"algorithm" yaml:"algorithm"`
	Hash      string `json:"hash" yaml:"hash"`
}

func (r hashResult) Header() []string { return []string{"algorithm", "hash"} }
func (r hashResult) Rows() [][]string { return [][]string{{r.Algorithm, r.Hash}} }

func newCheckPasswordCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "check-password [password]",
		Short: "Check a password against the strength rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readSecret(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			st := password.CheckStrength(pw)
			if st.Valid && g.printer.Format() == format.Table {
				g.printer.Success("password meets every rule")
				return nil
			}
			return g.printer.Print(strengthResult{Valid: st.Valid, Violations: st.Errors})
		},
	}
}

type strengthResult struct {
	Valid      bool     `json:"valid" yaml:"valid"`
	Violations []string `json:"violations" yaml:"violations"`
}

func (r strengthResult) Header() []string { return []string{"#", "violation"} }

func (r strengthResult) Rows() [][]string {
	rows := make([][]string, 0, len(r.Violations))
	for i, v := range r.Violations {
		rows = append(rows, []string{strconv.Itoa(i + 1), v})
	}
	return rows
}

func itoa(n int) string { return strconv.Itoa(n) }
