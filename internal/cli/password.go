package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KevinKickass/OpenLabCore/internal/auth"
)

// NewHashPasswordCommand prints the argon2id hash for auth.users in the
// server configuration.
func NewHashPasswordCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Hash a password for the server configuration",
		Long:  "Hash a password with argon2id. Without an argument the password is read from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)

			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					_ = f.Fail(ErrCodePassword, "no password given", nil)
					return NewExitError(ExitCommandError, "no password given")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				_ = f.Fail(ErrCodePassword, "empty password", nil)
				return NewExitError(ExitCommandError, "empty password")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				_ = f.Fail(ErrCodePassword, err.Error(), nil)
				return WrapExitError(ExitCommandError, "failed to hash password", err)
			}

			if f.JSON() {
				return f.Success(map[string]string{"password_hash": hash})
			}
			fmt.Fprintln(f.Writer, hash)
			return nil
		},
	}
}
