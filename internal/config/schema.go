// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

var configSchema = `
{
  "type": "object",
  "properties": {
    "addr": {
      "description": "Address where the http server will listen on (for example: 'localhost:8080').",
      "type": "string"
    },
    "db-driver": {
      "description": "'sqlite3' or 'mysql' (mysql will work for mariadb as well).",
      "type": "string",
      "enum": ["sqlite3", "mysql"]
    },
    "db": {
      "description": "For sqlite3 a filename, for mysql a DSN in the go-sql-driver format (without query parameters).",
      "type": "string"
    },
    "heartbeat-interval": {
      "description": "Upstream keepalive interval as a string parsable by time.ParseDuration().",
      "type": "string"
    },
    "reconnect-delay": {
      "description": "Initial upstream reconnect delay as a string parsable by time.ParseDuration(). Doubled per attempt, capped at one minute.",
      "type": "string"
    },
    "max-reconnect-attempts": {
      "description": "Number of reconnect attempts before a collector gives up.",
      "type": "integer",
      "minimum": 1
    },
    "connection-log-retention": {
      "description": "How long connection-log audit entries are kept, as a string parsable by time.ParseDuration().",
      "type": "string"
    },
    "cors-allowed-origins": {
      "description": "Origins allowed to open subscriber websockets and call the REST API.",
      "type": "array",
      "items": {
        "type": "string"
      }
    },
    "nats": {
      "description": "Optional NATS relay mirroring every broadcast payload to a message bus.",
      "type": "object",
      "properties": {
        "address": {
          "description": "Address of the NATS server (for example: 'nats://localhost:4222').",
          "type": "string"
        },
        "username": {
          "description": "Username for basic authentication.",
          "type": "string"
        },
        "password": {
          "description": "Password for basic authentication.",
          "type": "string"
        },
        "creds-file-path": {
          "description": "Path to a NATS credentials file.",
          "type": "string"
        },
        "subject-prefix": {
          "description": "Subject prefix for published payloads; the circuit id is appended.",
          "type": "string"
        }
      },
      "required": ["address"]
    }
  }
}`
