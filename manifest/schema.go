package manifest

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// schemaSource constrains a fully defaulted manifest.
const schemaSource = `
#Addr: "" | =~"^[^\\s:]*:[0-9]{1,5}$"

#Manifest: {
	run: {
		debug:       bool
		trace:       bool
		disassemble: bool
	}
	vm: {
		"max-frames": int & >=1 & <=65536
		"max-stack":  int & >=16 & <=16777216
	}
	cache: path: string
	server: {
		"http-addr": #Addr
		"grpc-addr": #Addr
	}
	log: {
		verbosity: int & >=-4 & <=4
		file:      string
	}
}
`

var (
	schemaOnce  sync.Once
	schemaCtx   *cue.Context
	schemaValue cue.Value
	schemaErr   error

	// cue.Context is not safe for concurrent use.
	schemaMu sync.Mutex
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schemaSource, cue.Filename("venom-schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile manifest schema: %w", err)
			return
		}
		schemaValue = v.LookupPath(cue.ParsePath("#Manifest"))
		schemaErr = schemaValue.Err()
	})
	return schemaCtx, schemaValue, schemaErr
}

// Validate checks m against the manifest schema.
func Validate(m *Manifest) error {
	ctx, schema, err := loadSchema()
	if err != nil {
		return err
	}
	schemaMu.Lock()
	defer schemaMu.Unlock()
	v := schema.Unify(ctx.Encode(m))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}
