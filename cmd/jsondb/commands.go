package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/maruel/jsondb/internal/jsondb"
	"github.com/maruel/ksid"
)

var (
	errUsage    = errors.New("invalid arguments")
	errNotFound = errors.New("not found")
)

type command struct {
	name  string
	usage string
	help  string
	nargs int
	run   func(ctx context.Context, db *jsondb.DB, args []string, w io.Writer) error
}

var commands []command

func init() {
	commands = []command{
		{"collections", "collections", "List collection names", 0, cmdCollections},
		{"list", "list <collection>", "Print all records of a collection", 1, cmdList},
		{"get", "get <collection> <id>", "Print one record", 2, cmdGet},
		{"create", "create <collection> <json>", "Append a record; assigns an id when missing", 2, cmdCreate},
		{"update", "update <collection> <id> <json>", "Merge fields into a record", 3, cmdUpdate},
		{"delete", "delete <collection> <id>", "Delete a record", 2, cmdDelete},
		{"drop", "drop <collection>", "Delete a whole collection", 1, cmdDrop},
		{"watch", "watch", "Print collection sizes whenever the file changes", 0, cmdWatch},
		{"schema", "schema", "Print the JSON schema of the data file", 0, cmdSchema},
	}
}

// run executes the command named by args[0].
func run(ctx context.Context, db *jsondb.DB, args []string, w io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		if len(args)-1 != c.nargs {
			return fmt.Errorf("%w: usage: jsondb %s", errUsage, c.usage)
		}
		return c.run(ctx, db, args[1:], w)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func cmdCollections(_ context.Context, db *jsondb.DB, _ []string, w io.Writer) error {
	names, err := db.Collections()
	if err != nil {
		return err
	}
	for _, n := range names {
		if _, err := fmt.Fprintln(w, n); err != nil {
			return err
		}
	}
	return nil
}

func cmdList(_ context.Context, db *jsondb.DB, args []string, w io.Writer) error {
	all, err := jsondb.NewCollection[jsondb.Record](db, args[0]).All()
	if err != nil {
		return err
	}
	return printJSON(w, all)
}

func cmdGet(_ context.Context, db *jsondb.DB, args []string, w io.Writer) error {
	rec, ok, err := jsondb.NewCollection[jsondb.Record](db, args[0]).Get(args[1])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", errNotFound, args[0], args[1])
	}
	return printJSON(w, rec)
}

func cmdCreate(ctx context.Context, db *jsondb.DB, args []string, w io.Writer) error {
	rec, err := parseObject(args[1])
	if err != nil {
		return err
	}
	if _, ok := rec["id"]; !ok {
		rec["id"] = ksid.NewID().String()
	}
	out, err := jsondb.NewCollection[jsondb.Record](db, args[0]).Create(rec)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "Created", "collection", args[0], "id", out["id"])
	return printJSON(w, out)
}

func cmdUpdate(ctx context.Context, db *jsondb.DB, args []string, w io.Writer) error {
	patch, err := parseObject(args[2])
	if err != nil {
		return err
	}
	rec, ok, err := jsondb.NewCollection[jsondb.Record](db, args[0]).Update(args[1], patch)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", errNotFound, args[0], args[1])
	}
	slog.DebugContext(ctx, "Updated", "collection", args[0], "id", args[1])
	return printJSON(w, rec)
}

func cmdDelete(_ context.Context, db *jsondb.DB, args []string, _ io.Writer) error {
	ok, err := jsondb.NewCollection[jsondb.Record](db, args[0]).Delete(args[1])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", errNotFound, args[0], args[1])
	}
	return nil
}

func cmdDrop(_ context.Context, db *jsondb.DB, args []string, _ io.Writer) error {
	ok, err := jsondb.NewCollection[jsondb.Record](db, args[0]).Drop()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s does not exist", errNotFound, db.Path())
	}
	return nil
}

func cmdSchema(_ context.Context, _ *jsondb.DB, _ []string, w io.Writer) error {
	return printJSON(w, jsondb.DocumentSchema())
}

func parseObject(s string) (map[string]any, error) {
	d := json.NewDecoder(strings.NewReader(s))
	d.UseNumber()
	var m map[string]any
	if err := d.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON object: %w", errUsage, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", errUsage)
	}
	return m, nil
}

func printJSON(w io.Writer, v any) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
