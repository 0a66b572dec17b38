package server

import (
	"time"

	"github.com/tangramhq/tangram/internal/id"
)

func nowUnix() int64 { return time.Now().Unix() }

func idFromString(s string) (id.Id, error) { return id.Parse(s) }
