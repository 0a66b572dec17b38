package object

import (
	"sort"

	"github.com/tangramhq/tangram/internal/id"
)

// Mount is a single bind mount made available to a process, spec.md §3.2 /
// §4.5: a source artifact (or host path) made visible at Target inside the
// sandbox, optionally writable.
type Mount struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Readonly bool   `json:"readonly,omitempty"`
}

// Command is the executable specification a process instantiates:
// host/target triple, executable, argument vector, environment, working
// directory, mounts, stdin, and an optional sandbox user (spec.md §3.2).
type Command struct {
	Host       string            `json:"host"`
	Executable id.Id             `json:"executable"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Cwd        *string           `json:"cwd,omitempty"`
	Mounts     []Mount           `json:"mounts,omitempty"`
	Stdin      *id.Id            `json:"stdin,omitempty"`
	User       *string           `json:"user,omitempty"`
}

func (*Command) Kind() id.Kind { return id.Command }

func (c *Command) marshalBinary(w *writer) {
	w.stringField(c.Host)
	w.stringField(c.Executable.String())

	w.uvarint(uint64(len(c.Args)))
	for _, a := range c.Args {
		w.stringField(a)
	}

	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.uvarint(uint64(len(keys)))
	for _, k := range keys {
		w.stringField(k)
		w.stringField(c.Env[k])
	}

	writeOptionalString(w, c.Cwd)

	w.uvarint(uint64(len(c.Mounts)))
	for _, m := range c.Mounts {
		w.stringField(m.Source)
		w.stringField(m.Target)
		w.boolField(m.Readonly)
	}

	if c.Stdin != nil {
		w.boolField(true)
		w.stringField(c.Stdin.String())
	} else {
		w.boolField(false)
	}

	writeOptionalString(w, c.User)
}

func decodeCommand(r *reader) (*Command, error) {
	host, err := r.stringField()
	if err != nil {
		return nil, err
	}
	execStr, err := r.stringField()
	if err != nil {
		return nil, err
	}
	executable, err := id.Parse(execStr)
	if err != nil {
		return nil, err
	}

	argc, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, argc)
	for i := uint64(0); i < argc; i++ {
		a, err := r.stringField()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
	}

	envc, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	env := make(map[string]string, envc)
	for i := uint64(0); i < envc; i++ {
		k, err := r.stringField()
		if err != nil {
			return nil, err
		}
		v, err := r.stringField()
		if err != nil {
			return nil, err
		}
		env[k] = v
	}

	cwd, err := readOptionalString(r)
	if err != nil {
		return nil, err
	}

	mountc, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	mounts := make([]Mount, 0, mountc)
	for i := uint64(0); i < mountc; i++ {
		source, err := r.stringField()
		if err != nil {
			return nil, err
		}
		target, err := r.stringField()
		if err != nil {
			return nil, err
		}
		readonly, err := r.boolField()
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, Mount{Source: source, Target: target, Readonly: readonly})
	}

	hasStdin, err := r.boolField()
	if err != nil {
		return nil, err
	}
	var stdin *id.Id
	if hasStdin {
		s, err := r.stringField()
		if err != nil {
			return nil, err
		}
		sid, err := id.Parse(s)
		if err != nil {
			return nil, err
		}
		stdin = &sid
	}

	user, err := readOptionalString(r)
	if err != nil {
		return nil, err
	}

	return &Command{
		Host:       host,
		Executable: executable,
		Args:       args,
		Env:        env,
		Cwd:        cwd,
		Mounts:     mounts,
		Stdin:      stdin,
		User:       user,
	}, nil
}
