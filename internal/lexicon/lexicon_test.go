// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lexicon

import "testing"

func TestLookupKnownTerms(t *testing.T) {
	cases := map[string]string{
		"Clt":         FieldPosition,
		"Rk":          FieldPosition,
		"Pilote":      FieldDriver,
		"Fahrer":      FieldDriver,
		"Kart":        FieldKart,
		"Dernier T.":  FieldLastLap,
		"Lap Time":    FieldLastLap,
		"Meilleur T.": FieldBestLap,
		"Gap":         FieldGap,
		"Abstand":     FieldGap,
		"Vueltas":     FieldLaps,
		"País":        FieldNation,
		"":            FieldStatus,
		"Essai":       FieldPractice,
		"Temps":       FieldTime,
		"Équipe":      FieldTeam,
	}

	for term, want := range cases {
		got, ok := Lookup(term)
		if !ok {
			t.Errorf("Lookup(%q): expected hit", term)
		}
		if got != want {
			t.Errorf("Lookup(%q) = %q, want %q", term, got, want)
		}
	}
}

func TestLookupMissReturnsVerbatim(t *testing.T) {
	got, ok := Lookup("Boxenstopp")
	if ok {
		t.Error("expected miss for unknown term")
	}
	if got != "Boxenstopp" {
		t.Errorf("miss must return the term verbatim, got %q", got)
	}
}

func TestLookupIsCaseSensitive(t *testing.T) {
	if _, ok := Lookup("clt"); ok {
		t.Error("lookup must be case-sensitive: 'clt' should miss")
	}
}
