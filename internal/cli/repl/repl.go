// Package repl is an interactive shell that compiles filters against a model
// file and prints the SQL a repository would issue, without a database.
package repl

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/VENIZIA-AI/ignis-sub007/internal/common/db"
	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
	"github.com/VENIZIA-AI/ignis-sub007/internal/query"
	"github.com/VENIZIA-AI/ignis-sub007/internal/relation"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/filter"

	"github.com/google/shlex"
)

// ErrExit is returned by Execute when the user asks to leave.
var ErrExit = stderrors.New("exit")

// Session holds REPL state.
type Session struct {
	registry      *model.Registry
	compiler      *query.Compiler
	resolver      *relation.Resolver
	defaultFilter bool
	prettyJSON    bool
	outputWriter  *bufio.Writer
}

// New creates a session for the registry using the dialect of driver.
func New(registry *model.Registry, driver db.Driver, out io.Writer) (*Session, error) {
	s := &Session{
		registry:      registry,
		defaultFilter: true,
		outputWriter:  bufio.NewWriter(out),
	}
	if err := s.useDialect(driver); err != nil {
		return nil, err
	}
	return s, nil
}

// Run reads commands until EOF or exit.
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	reader := bufio.NewReader(in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, _ = s.outputWriter.WriteString("ignis> ")
		_ = s.outputWriter.Flush()
		line, err := reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			if execErr := s.Execute(line); execErr != nil {
				if stderrors.Is(execErr, ErrExit) {
					s.printLine("bye")
					return nil
				}
				s.printLine("error: %v", execErr)
			}
		}
		if err == io.EOF {
			s.printLine("")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
	}
}

// Execute runs one command line.
func (s *Session) Execute(line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	return s.Dispatch(tokens)
}

// Dispatch runs an already split command.
func (s *Session) Dispatch(tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	args := tokens[1:]
	switch tokens[0] {
	case "exit", "quit":
		return ErrExit
	case "help":
		s.printHelp()
		return nil
	case "entities":
		for _, name := range s.registry.Names() {
			s.printLine("%s", name)
		}
		return nil
	case "operators":
		s.printLine("%s", strings.Join(query.OperatorNames(), " "))
		return nil
	case "describe":
		if len(args) != 1 {
			return fmt.Errorf("usage: describe <entity>")
		}
		return s.describe(args[0])
	case "set":
		return s.handleSet(args)
	case "show":
		return s.handleShow(args)
	case "explain":
		if len(args) == 0 || len(args) > 2 {
			return fmt.Errorf("usage: explain <entity> ['<filter json>']")
		}
		raw := ""
		if len(args) == 2 {
			raw = args[1]
		}
		return s.explain(args[0], raw)
	}
	return fmt.Errorf("unknown command: %s", tokens[0])
}

func (s *Session) useDialect(driver db.Driver) error {
	dialect, err := query.DialectFor(driver)
	if err != nil {
		return err
	}
	s.compiler = query.NewCompiler(dialect)
	s.resolver = relation.NewResolver(s.registry, s.compiler, nil)
	return nil
}

func (s *Session) handleSet(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: set dialect|defaultFilter|pretty <value>")
	}
	switch args[0] {
	case "dialect":
		if err := s.useDialect(db.Driver(args[1])); err != nil {
			return err
		}
		s.printLine("dialect set to %s", s.compiler.Dialect().Name())
	case "defaultFilter", "pretty":
		on, err := parseSwitch(args[1])
		if err != nil {
			return err
		}
		if args[0] == "pretty" {
			s.prettyJSON = on
		} else {
			s.defaultFilter = on
		}
		s.printLine("%s set to %v", args[0], on)
	default:
		return fmt.Errorf("unknown setting: %s", args[0])
	}
	return nil
}

func (s *Session) handleShow(args []string) error {
	if len(args) != 1 || args[0] != "config" {
		return fmt.Errorf("usage: show config")
	}
	s.printLine("dialect: %s", s.compiler.Dialect().Name())
	s.printLine("defaultFilter: %v", s.defaultFilter)
	s.printLine("pretty: %v", s.prettyJSON)
	return nil
}

func (s *Session) describe(name string) error {
	entity, err := s.registry.Get(name)
	if err != nil {
		return err
	}
	s.printLine("%s (table %s, primary key %s, id strategy %s)", entity.Name, entity.Table, entity.PrimaryKey, entity.IDStrategy)
	for _, c := range entity.Columns {
		kind := string(c.Type)
		if c.Type == model.TypeArray {
			kind += "<" + string(c.ElementType) + ">"
		}
		var flags []string
		if c.Generated {
			flags = append(flags, "generated")
		}
		if c.Schema != "" {
			flags = append(flags, "schema")
		}
		if entity.SoftDelete != nil && entity.SoftDelete.Column == c.Name {
			flags = append(flags, "soft-delete")
		}
		line := fmt.Sprintf("  %-20s %s", c.Name, kind)
		if len(flags) > 0 {
			line += " [" + strings.Join(flags, ",") + "]"
		}
		s.printLine("%s", line)
	}
	names := make([]string, 0, len(entity.Relations))
	for rel := range entity.Relations {
		names = append(names, rel)
	}
	sort.Strings(names)
	for _, rel := range names {
		r := entity.Relations[rel]
		if r.Kind == model.HasManyThrough {
			s.printLine("  %-20s %s %s through %s", rel, r.Kind, r.Target, r.Through.Entity)
			continue
		}
		s.printLine("  %-20s %s %s via %s", rel, r.Kind, r.Target, r.ForeignKey)
	}
	if len(entity.DefaultFilter) > 0 {
		data, _ := json.Marshal(entity.DefaultFilter)
		s.printLine("  default filter: %s", data)
	}
	return nil
}

// explain mirrors the repository's planning: default filter, projection
// widening for includes, compilation and include validation.
func (s *Session) explain(name, raw string) error {
	entity, err := s.registry.Get(name)
	if err != nil {
		return err
	}
	f, err := filter.Parse([]byte(raw))
	if err != nil {
		return err
	}
	if s.defaultFilter && len(entity.DefaultFilter) > 0 {
		f.Where = filter.And(entity.DefaultFilter, f.Where)
	}
	keys, err := relation.RequiredKeys(entity, f.Include)
	if err != nil {
		return err
	}
	f.Fields, _ = relation.EnsureFields(f.Fields, keys...)
	q, err := s.compiler.Compile(entity, f)
	if err != nil {
		return err
	}
	if err := s.resolver.Validate(entity, f.Include); err != nil {
		return err
	}

	sqlStr, args, err := s.compiler.SelectBuilder(entity, q).ToSql()
	if err != nil {
		return err
	}
	countSQL, countArgs, err := s.compiler.CountBuilder(entity, q.Where).ToSql()
	if err != nil {
		return err
	}
	s.printLine("%s", sqlStr)
	s.printArgs(args)
	s.printLine("%s", countSQL)
	s.printArgs(countArgs)
	for _, inc := range f.Include {
		rel, _ := entity.Relation(inc.Relation)
		s.printLine("include %s: %s %s", inc.Relation, rel.Kind, rel.Target)
	}
	return nil
}

func (s *Session) printArgs(args []interface{}) {
	if len(args) == 0 {
		return
	}
	var (
		data []byte
		err  error
	)
	if s.prettyJSON {
		data, err = json.MarshalIndent(args, "", "  ")
	} else {
		data, err = json.Marshal(args)
	}
	if err != nil {
		s.printLine("args: %v", args)
		return
	}
	s.printLine("args: %s", data)
}

func parseSwitch(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", v)
}

func (s *Session) printHelp() {
	s.printLine("commands:")
	s.printLine("  entities | operators | describe <entity>")
	s.printLine("  explain <entity> ['<filter json>']")
	s.printLine("  set dialect postgres|pgx|mysql|sqlite | set defaultFilter on|off | set pretty on|off")
	s.printLine("  show config | help | exit")
	s.printLine("examples:")
	s.printLine(`  explain Product '{"where":{"price":{"gt":10}},"order":"price DESC","limit":5}'`)
	s.printLine(`  explain Product '{"include":[{"relation":"channels"}]}'`)
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.outputWriter, format+"\n", args...)
	_ = s.outputWriter.Flush()
}
