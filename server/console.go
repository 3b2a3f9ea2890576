package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const consoleHelp = "Available commands: list, stats, kick <name>, ban <name>, unban <name>, broadcast <msg>, stop"

// runConsole reads operator commands from in until EOF or "stop".
// It reports whether "stop" was requested.
func runConsole(in io.Reader, out io.Writer, srv *Server, config *Config) bool {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "Server console ready. Type 'help' for commands.")
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			fmt.Fprintln(out, consoleHelp)
		case "stop":
			fmt.Fprintln(out, "Stopping server...")
			return true
		case "list":
			names := srv.registry.Names()
			if len(names) == 0 {
				fmt.Fprintln(out, "Nobody is online.")
				continue
			}
			fmt.Fprintf(out, "Online (%d): %s\n", len(names), strings.Join(names, ", "))
		case "stats":
			fmt.Fprintln(out, srv.Stats())
		case "kick":
			if len(args) != 1 {
				fmt.Fprintln(out, "Usage: kick <name>")
				continue
			}
			if srv.Kick(args[0], "You have been kicked.") {
				fmt.Fprintln(out, "User kicked.")
			} else {
				fmt.Fprintln(out, "User not found.")
			}
		case "ban":
			if len(args) != 1 {
				fmt.Fprintln(out, "Usage: ban <name>")
				continue
			}
			if err := config.Ban(args[0]); err != nil {
				fmt.Fprintln(out, "Error banning:", err)
				continue
			}
			srv.Kick(args[0], "You have been banned.")
			fmt.Fprintln(out, "User banned.")
		case "unban":
			if len(args) != 1 {
				fmt.Fprintln(out, "Usage: unban <name>")
				continue
			}
			if err := config.Unban(args[0]); err != nil {
				fmt.Fprintln(out, "Error unbanning:", err)
			} else {
				fmt.Fprintln(out, "User unbanned.")
			}
		case "broadcast":
			if len(args) < 1 {
				fmt.Fprintln(out, "Usage: broadcast <message>")
				continue
			}
			n := srv.Broadcast("[Admin] " + strings.Join(args, " "))
			fmt.Fprintf(out, "Broadcast sent to %d users.\n", n)
		default:
			fmt.Fprintln(out, "Unknown command.")
		}
	}
	return false
}
