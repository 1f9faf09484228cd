package server

import (
	"bufio"
	"net"

	"github.com/rs/zerolog"

	"github.com/cpape/butler/internal/dispatcher"
	"github.com/cpape/butler/internal/wire"
)

// handleOneRequest reads exactly one request line off conn, routes it
// to disp, and writes exactly one response line back. Each connection
// carries a single request/response pair; the client reconnects for
// its next call.
func handleOneRequest(conn net.Conn, disp *dispatcher.Dispatcher, arity int, logger zerolog.Logger) error {
	line, err := wire.ReadLine(bufio.NewReader(conn))
	if err != nil {
		return err
	}

	req, err := wire.ParseRequest(line, arity)
	if err != nil {
		return err
	}

	var response string
	switch req.Kind {
	case wire.RequestBlockKind:
		block := disp.RequestBlock()
		response = wire.FormatBlockResponse(block)
	case wire.ConfirmBlockKind:
		accepted := disp.ConfirmBlock(req.Confirm)
		response = wire.FormatConfirmResponse(accepted)
	}

	return wire.WriteLine(conn, response)
}
