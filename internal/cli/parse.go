package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const usage = `command required

Usage: medadmin [flags] <command> [args]

Commands:
  login -email <email> -password <password>
  logout
  status                               Show the stored session
  profile                              Fetch the signed-in administrator
  list <resource>                      blogs, services, workshops, reviews, contacts
  get <resource> <id>
  create <resource> field=value ...    field=@path uploads a file, field:=json sends raw JSON
  update <resource> <id> field=value ...
  delete <resource> <id>
  media <resource> <id> <field>        Resolve a media field to a displayable URL
  settings [save field=value ...]
  counts                               Number of records per resource
  watch                                Expire the session on schedule until interrupted`

// Command is one parsed invocation.
type Command struct {
	Name     string
	Resource string
	ID       string
	// Fields are the raw field=value arguments of create, update and settings save.
	Fields []string
	// Field names the media field of the media command.
	Field string

	Email    string
	Password string
}

// Flags apply to every command.
type Flags struct {
	EnvFile string
	Console bool
	Indent  bool
}

// Parse splits args into global flags and a command.
func Parse(args []string, output io.Writer) (*Command, *Flags, error) {
	flagSet := flag.NewFlagSet("medadmin", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flags := &Flags{}
	flagSet.StringVar(&flags.EnvFile, "env-file", ".env", "Dotenv file read before the environment")
	flagSet.BoolVar(&flags.Console, "console", false, "Human readable logs")
	flagSet.BoolVar(&flags.Indent, "indent", true, "Indent JSON output")

	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		return nil, nil, errors.New(usage)
	}

	cmd := &Command{Name: rest[0]}
	rest = rest[1:]
	switch cmd.Name {
	case "login":
		loginSet := flag.NewFlagSet("login", flag.ContinueOnError)
		loginSet.SetOutput(output)
		loginSet.StringVar(&cmd.Email, "email", "", "Administrator email")
		loginSet.StringVar(&cmd.Password, "password", "", "Administrator password")
		if err := loginSet.Parse(rest); err != nil {
			return nil, nil, err
		}
		if cmd.Email == "" || cmd.Password == "" {
			return nil, nil, fmt.Errorf("login requires -email and -password")
		}
	case "logout", "status", "profile", "counts", "watch":
		if len(rest) > 0 {
			return nil, nil, fmt.Errorf("%s takes no arguments", cmd.Name)
		}
	case "list":
		if len(rest) != 1 {
			return nil, nil, fmt.Errorf("usage: list <resource>")
		}
		cmd.Resource = rest[0]
	case "get", "delete":
		if len(rest) != 2 {
			return nil, nil, fmt.Errorf("usage: %s <resource> <id>", cmd.Name)
		}
		cmd.Resource, cmd.ID = rest[0], rest[1]
	case "media":
		if len(rest) != 3 {
			return nil, nil, fmt.Errorf("usage: media <resource> <id> <field>")
		}
		cmd.Resource, cmd.ID, cmd.Field = rest[0], rest[1], rest[2]
	case "create":
		if len(rest) < 1 {
			return nil, nil, fmt.Errorf("usage: create <resource> field=value ...")
		}
		cmd.Resource, cmd.Fields = rest[0], rest[1:]
	case "update":
		if len(rest) < 2 {
			return nil, nil, fmt.Errorf("usage: update <resource> <id> field=value ...")
		}
		cmd.Resource, cmd.ID, cmd.Fields = rest[0], rest[1], rest[2:]
	case "settings":
		switch {
		case len(rest) == 0 || rest[0] == "show":
			if len(rest) > 1 {
				return nil, nil, fmt.Errorf("settings show takes no arguments")
			}
		case rest[0] == "save":
			cmd.Name, cmd.Fields = "settings-save", rest[1:]
		default:
			return nil, nil, fmt.Errorf("unknown settings command: %s", rest[0])
		}
	default:
		return nil, nil, fmt.Errorf("unknown command: %s\n\nValid commands: login, logout, status, profile, list, get, create, update, delete, media, settings, counts, watch", cmd.Name)
	}

	for _, f := range cmd.Fields {
		if !strings.Contains(f, "=") {
			return nil, nil, fmt.Errorf("field %q must be name=value", f)
		}
	}
	return cmd, flags, nil
}
