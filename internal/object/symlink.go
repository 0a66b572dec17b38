package object

import (
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// Symlink carries an artifact target, a literal relative path target, or
// both; at least one must be present (spec.md §3.2).
type Symlink struct {
	Artifact *id.Id  `json:"artifact,omitempty"`
	Path     *string `json:"path,omitempty"`
}

func (*Symlink) Kind() id.Kind { return id.Symlink }

// Validate enforces "at least one of artifact, path set".
func (s *Symlink) Validate() error {
	if s.Artifact == nil && s.Path == nil {
		return tgerror.New(tgerror.Validation, "symlink must set artifact, path, or both")
	}
	return nil
}

func (s *Symlink) marshalBinary(w *writer) {
	if s.Artifact != nil {
		w.boolField(true)
		w.stringField(s.Artifact.String())
	} else {
		w.boolField(false)
	}
	if s.Path != nil {
		w.boolField(true)
		w.stringField(*s.Path)
	} else {
		w.boolField(false)
	}
}

func decodeSymlink(r *reader) (*Symlink, error) {
	hasArtifact, err := r.boolField()
	if err != nil {
		return nil, err
	}
	s := &Symlink{}
	if hasArtifact {
		str, err := r.stringField()
		if err != nil {
			return nil, err
		}
		aid, err := id.Parse(str)
		if err != nil {
			return nil, err
		}
		s.Artifact = &aid
	}
	hasPath, err := r.boolField()
	if err != nil {
		return nil, err
	}
	if hasPath {
		p, err := r.stringField()
		if err != nil {
			return nil, err
		}
		s.Path = &p
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
