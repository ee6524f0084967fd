package service

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/matt-riley/marquee/internal/repository"
)

func FuzzBuildStoredDefinition(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"title":"Star Wars","running_time_minutes":210,"fee":10000,"policy":{"type":"none"}}`))
	f.Add([]byte(`{"title":"Titanic","running_time_minutes":180,"fee":11000,"policy":{"type":"percent","fraction":"0.1","conditions":[{"type":"sequence","sequence":2}]}}`))
	f.Add([]byte(`{"title":"Avatar","running_time_minutes":120,"fee":10000,"policy":{"type":"amount","amount":800,"conditions":[{"type":"period","day_of_week":"mon","start":"10:00","end":"12:00"}]}}`))
	f.Add([]byte(`{"fee":"NaN"`))

	svc := &Service{builder: testFactory(f)}

	f.Fuzz(func(t *testing.T, payload []byte) {
		e, err := svc.buildEntry(repository.Movie{Definition: json.RawMessage(payload)})
		if err != nil {
			if !errors.Is(err, ErrInvalidDefinition) {
				t.Fatalf("buildEntry(%q) error = %v, want ErrInvalidDefinition-wrapped error", payload, err)
			}
			return
		}

		if e.built == nil {
			t.Fatalf("buildEntry(%q) returned nil movie without error", payload)
		}
		if e.built.Title() != e.record.Title {
			t.Fatalf("built title = %q, record title = %q", e.built.Title(), e.record.Title)
		}
		if e.built.Fee().IsNegative() {
			t.Fatalf("buildEntry(%q) accepted negative fee %s", payload, e.built.Fee())
		}
	})
}
