// Package query implements the simple-query executor (C5): send a Query
// message over a transport.Conn, accumulate the reply frames until
// ReadyForQuery, and classify the result into a tuple response, a
// command-complete response, or an error.
package query

import (
	"time"

	"github.com/pgvictoria/pgvictoria/pgerr"
	"github.com/pgvictoria/pgvictoria/pglog"
	"github.com/pgvictoria/pgvictoria/protocol"
	"github.com/pgvictoria/pgvictoria/transport"
)

// pollInterval is the sleep between retries when a read returns ZERO.
const pollInterval = time.Millisecond

// readTimeout bounds each individual read attempt; the executor itself
// loops past ZERO results rather than treating them as failures.
const readTimeout = 5 * time.Second

// Response is the result of a simple query: either a set of named
// columns with zero or more tuples, or a single command-complete tag.
type Response struct {
	IsCommandComplete bool
	Names             []string
	Tuples            [][]*string
	CommandTag        string
}

// Execute sends sql over conn and returns its classified response,
// following the accumulate-until-Z algorithm: write the query, read and
// append frames (sleeping on a ZERO read rather than failing), stop once
// a 'Z' ReadyForQuery frame is present, then classify by the first
// significant tag found.
func Execute(conn *transport.Conn, sql string) (*Response, error) {
	msg, err := protocol.QueryMessage(sql)
	if err != nil {
		return nil, pgerr.ProtocolError("invalid query: %v", err)
	}
	pglog.Debug("query request", "message", msg.DebugString())
	if err := conn.Write(msg); err != nil {
		return nil, pgerr.TransportError("writing query: %v", err)
	}

	var acc protocol.Accumulator
	for !acc.HasMessage('Z') {
		frame, status, err := conn.Read(readTimeout)
		switch status {
		case transport.OK:
			pglog.Debug("query response", "message", frame.DebugString())
			acc.Append(frame)
		case transport.Zero:
			time.Sleep(pollInterval)
		case transport.Error:
			return nil, pgerr.TransportError("reading query response: %v", err)
		}
	}

	return classify(&acc)
}

// classify implements step 4 of the executor algorithm: an 'E' frame
// always wins regardless of what else accumulated, then 'T' (row
// description) beats 'C' (command complete), then failure.
func classify(acc *protocol.Accumulator) (*Response, error) {
	if fields, ok, err := acc.FirstError(); err != nil {
		return nil, pgerr.ProtocolError("malformed error response: %v", err)
	} else if ok {
		return nil, pgerr.BackendError(fields['C'], fields['M'])
	}

	frames := acc.Frames()

	for i, f := range frames {
		if f.Kind() != 'T' {
			continue
		}
		cols, err := f.Columns()
		if err != nil {
			return nil, pgerr.ProtocolError("malformed row description: %v", err)
		}
		names := make([]string, len(cols))
		for j, c := range cols {
			names[j] = c.Name
		}
		var tuples [][]*string
		for _, d := range frames[i+1:] {
			if d.Kind() != 'D' {
				continue
			}
			vals, err := d.Values()
			if err != nil {
				return nil, pgerr.ProtocolError("malformed data row: %v", err)
			}
			tuples = append(tuples, vals)
		}
		return &Response{IsCommandComplete: false, Names: names, Tuples: tuples}, nil
	}

	for _, f := range frames {
		if f.Kind() != 'C' {
			continue
		}
		tag, err := f.CommandTag()
		if err != nil {
			return nil, pgerr.ProtocolError("malformed command complete: %v", err)
		}
		return &Response{IsCommandComplete: true, CommandTag: tag}, nil
	}

	return nil, pgerr.ProtocolError("query response contained no T, C, or E frame")
}
