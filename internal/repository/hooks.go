// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"context"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

type hookCtxKey string

const hookBegin hookCtxKey = "begin"

// Hooks satisfies the sqlhooks.Hooks interface
type Hooks struct{}

// Before hook will print the query with its args and return the context with the timestamp
func (h *Hooks) Before(ctx context.Context, query string, args ...any) (context.Context, error) {
	cclog.Debugf("SQL query %s %q", query, args)
	return context.WithValue(ctx, hookBegin, time.Now()), nil
}

// After hook will get the timestamp registered on the Before hook and print the elapsed time
func (h *Hooks) After(ctx context.Context, query string, args ...any) (context.Context, error) {
	if begin, ok := ctx.Value(hookBegin).(time.Time); ok {
		cclog.Debugf("Took: %s", time.Since(begin))
	}
	return ctx, nil
}
