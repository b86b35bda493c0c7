package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/casualjim/eva"
	"github.com/tidwall/sjson"
)

// openAgency builds an agency from the configuration document with the
// --broker and --topic overrides applied on top.
func (g *globals) openAgency() (*eva.Agency, error) {
	doc := []byte(`{}`)
	if g.configPath != "" {
		b, err := os.ReadFile(g.configPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		doc = b
	}

	var err error
	if g.broker != "" {
		if doc, err = sjson.SetBytes(doc, "broker", g.broker); err != nil {
			return nil, fmt.Errorf("override broker: %w", err)
		}
	}
	if g.topic != "" {
		if doc, err = sjson.SetBytes(doc, "topic", g.topic); err != nil {
			return nil, fmt.Errorf("override topic: %w", err)
		}
	}

	a := eva.New(eva.Logger(slog.Default()))
	if err := a.LoadConfig(doc); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}
