package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource []byte

// Validate checks the configuration against the embedded schema. Every
// violation is reported with its field path.
func (c *Config) Validate() error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode for validation: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config: schema: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename(c.source()))
	if err := value.Err(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		var msgs []string
		for _, e := range cueerrors.Errors(err) {
			format, args := e.Msg()
			msgs = append(msgs, fmt.Sprintf("%s: %s", strings.Join(e.Path(), "."), fmt.Sprintf(format, args...)))
		}
		return fmt.Errorf("config %s: invalid: %s", c.source(), strings.Join(msgs, "; "))
	}
	return nil
}

func (c *Config) source() string {
	if c.Path == "" {
		return "(defaults)"
	}
	return c.Path
}
