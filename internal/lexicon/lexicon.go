// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lexicon maps the header-cell text of upstream timing grids to
// canonical field names. The dictionary is a compile-time constant covering
// the French, English, German, Italian, Spanish and Dutch variants seen on
// vendor feeds; lookups are case-sensitive.
package lexicon

// Canonical field names a column can be mapped to.
const (
	FieldPosition = "Position"
	FieldDriver   = "Driver"
	FieldKart     = "Kart"
	FieldLastLap  = "LastLap"
	FieldBestLap  = "BestLap"
	FieldGap      = "Gap"
	FieldLaps     = "Laps"
	FieldNation   = "Nation"
	FieldStatus   = "Status"
	FieldPractice = "Practice"
	FieldSession  = "Session"
	FieldTime     = "Time"
	FieldTeam     = "Team"
)

var terms = map[string]string{
	// Position
	"Clt":        FieldPosition,
	"Pos":        FieldPosition,
	"Pos.":       FieldPosition,
	"Position":   FieldPosition,
	"Positie":    FieldPosition,
	"Rk":         FieldPosition,
	"Rang":       FieldPosition,
	"Rank":       FieldPosition,
	"Classement": FieldPosition,

	// Driver
	"Pilote":     FieldDriver,
	"Driver":     FieldDriver,
	"Fahrer":     FieldDriver,
	"Pilota":     FieldDriver,
	"Conducente": FieldDriver,
	"Rijder":     FieldDriver,
	"Name":       FieldDriver,
	"Nom":        FieldDriver,

	// Kart number
	"Kart":   FieldKart,
	"No":     FieldKart,
	"Num":    FieldKart,
	"Number": FieldKart,

	// Last lap
	"Dernier T.": FieldLastLap,
	"Last":       FieldLastLap,
	"Last Time":  FieldLastLap,
	"Lap Time":   FieldLastLap,
	"Letzte":     FieldLastLap,
	"Ultimo":     FieldLastLap,
	"Laatste":    FieldLastLap,

	// Best lap
	"Meilleur T.": FieldBestLap,
	"Best":        FieldBestLap,
	"Best Time":   FieldBestLap,
	"Beste":       FieldBestLap,
	"Migliore":    FieldBestLap,

	// Gap
	"Ecart":      FieldGap,
	"Gap":        FieldGap,
	"Abstand":    FieldGap,
	"Ritardo":    FieldGap,
	"Diferencia": FieldGap,

	// Lap count
	"Tours":   FieldLaps,
	"Tour":    FieldLaps,
	"Laps":    FieldLaps,
	"Lap":     FieldLaps,
	"Runden":  FieldLaps,
	"Giri":    FieldLaps,
	"Vueltas": FieldLaps,
	"Ronden":  FieldLaps,

	// Nation
	"Nation":  FieldNation,
	"Country": FieldNation,
	"Land":    FieldNation,
	"Paese":   FieldNation,
	"País":    FieldNation,

	// Status columns carry no title on the wire.
	"": FieldStatus,

	// Practice / session
	"Practice": FieldPractice,
	"Essai":    FieldPractice,
	"Training": FieldPractice,
	"Session":  FieldSession,

	// Time of day
	"Time":  FieldTime,
	"Temps": FieldTime,

	// Team
	"Team":   FieldTeam,
	"Équipe": FieldTeam,
	"Equipe": FieldTeam,
}

// Lookup resolves a header term to its canonical field name. On a miss the
// term is returned verbatim and ok is false; callers decide whether a
// verbatim term is acceptable and log it as an unknown header term.
func Lookup(term string) (field string, ok bool) {
	if f, hit := terms[term]; hit {
		return f, true
	}
	return term, false
}

// Fields lists all canonical field names.
func Fields() []string {
	return []string{
		FieldPosition, FieldDriver, FieldKart, FieldLastLap, FieldBestLap,
		FieldGap, FieldLaps, FieldNation, FieldStatus, FieldPractice,
		FieldSession, FieldTime, FieldTeam,
	}
}
