package wire

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cpape/butler/internal/inventory"
)

func TestParseRequestBlockIsSingleToken(t *testing.T) {
	req, err := ParseRequest("1", 3)
	require.NoError(t, err)
	require.Equal(t, RequestBlockKind, req.Kind)
}

func TestParseRequestConfirmIsArityTokens(t *testing.T) {
	req, err := ParseRequest("0 0 100", 3)
	require.NoError(t, err)
	require.Equal(t, ConfirmBlockKind, req.Kind)
	require.True(t, req.Confirm.Equal(inventory.Block{0, 0, 100}))
}

func TestParseRequestRejectsBadTokenCount(t *testing.T) {
	_, err := ParseRequest("abc def", 3)
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestParseRequestRejectsNonDigitConfirmToken(t *testing.T) {
	_, err := ParseRequest("0 abc 100", 3)
	require.Error(t, err)
}

func TestParseRequestRejectsNegativeOffsets(t *testing.T) {
	_, err := ParseRequest("0 -1 100", 3)
	require.Error(t, err)
}

func TestFormatBlockResponse(t *testing.T) {
	require.Equal(t, "0 0 100", FormatBlockResponse(inventory.Block{0, 0, 100}))
	require.Equal(t, StopToken, FormatBlockResponse(nil))
}

func TestFormatConfirmResponseEncodingIsInverted(t *testing.T) {
	require.Equal(t, "0", FormatConfirmResponse(true))
	require.Equal(t, "1", FormatConfirmResponse(false))
}

func TestReadLineStripsNewline(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("0 0 0\n"))
	line, err := ReadLine(r)
	require.NoError(t, err)
	require.Equal(t, "0 0 0", line)
}

func TestReadLineReturnsFinalLineWithoutTrailingNewline(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("stop"))
	line, err := ReadLine(r)
	require.NoError(t, err)
	require.Equal(t, "stop", line)
}
