// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fanout

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
)

type sendClass int

const (
	sendTransient sendClass = iota
	sendFatal
)

// fatalSubstrings is the fallback for transports that surface untyped
// errors. Matching any of these means the subscriber is genuinely gone.
var fatalSubstrings = []string{
	"connection closed",
	"broken pipe",
	"connection reset",
	"use of closed network connection",
}

// classify decides whether a send error means the subscriber connection is
// gone (detach) or merely hiccuped (retain). Typed transport errors are
// checked first; the substring test is a fallback only.
func classify(err error) sendClass {
	if err == nil {
		return sendTransient
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return sendFatal
	}
	if errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return sendFatal
	}

	msg := strings.ToLower(err.Error())
	for _, s := range fatalSubstrings {
		if strings.Contains(msg, s) {
			return sendFatal
		}
	}
	return sendTransient
}
