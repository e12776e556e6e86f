package http1

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type message struct {
	header *Header
	body   []byte
	close  bool
}

// decodeChunks feeds chunks to d as a connection would, the last chunk with
// endOfInput set, and collects the decoded messages.
func decodeChunks(d *Decoder, chunks [][]byte, outSize int) ([]message, bool, error) {
	var (
		msgs   []message
		cur    message
		in     []byte
		closed bool
		out    = make([]byte, outSize)
	)
	for i, c := range chunks {
		in = append(in, c...)
		eof := i == len(chunks)-1
		for {
			res, err := d.Decode(in, out, eof)
			if err != nil {
				return msgs, closed, err
			}
			in = in[res.Consumed:]
			cur.body = append(cur.body, out[:res.Produced]...)
			if res.HeaderCompleted {
				cur.header = d.Header()
			}
			if res.MessageCompleted {
				cur.close = res.CloseConnection
				msgs = append(msgs, cur)
				cur = message{}
				continue
			}
			if res.CloseConnection {
				closed = true
				break
			}
			if res.Underflow {
				break
			}
		}
	}
	return msgs, closed, nil
}

func whole(data string) [][]byte {
	return [][]byte{[]byte(data)}
}

func byteByByte(data string) [][]byte {
	chunks := make([][]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		chunks = append(chunks, []byte{data[i]})
	}
	return chunks
}

func randomSplit(data string) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		n := rand.Intn(len(data)) + 1
		chunks = append(chunks, []byte(data[:n]))
		data = data[n:]
	}
	return chunks
}

// testSplits decodes data whole, byte by byte, and in random pieces with
// small and large output windows, and requires identical results.
func testSplits(t *testing.T, newDecoder func() *Decoder, data string) []message {
	want, _, err := decodeChunks(newDecoder(), whole(data), 4096)
	require.NoError(t, err)

	got, _, err := decodeChunks(newDecoder(), byteByByte(data), 4096)
	require.NoError(t, err)
	requireSameMessages(t, want, got)

	for i := 0; i < 100; i++ {
		got, _, err = decodeChunks(newDecoder(), randomSplit(data), 1+rand.Intn(16))
		require.NoError(t, err)
		requireSameMessages(t, want, got)
	}
	return want
}

func requireSameMessages(t *testing.T, want, got []message) {
	require.Equal(t, len(want), len(got))
	for i := range want {
		require.Equal(t, want[i].header.StartLine(), got[i].header.StartLine())
		require.Equal(t, want[i].header.Fields(), got[i].header.Fields())
		require.Equal(t, string(want[i].body), string(got[i].body))
		require.Equal(t, want[i].close, got[i].close)
	}
}

func requestDecoder() *Decoder {
	return NewRequestDecoder(Config{})
}

func responseDecoder() *Decoder {
	return NewResponseDecoder(Config{})
}

func requireProtocolError(t *testing.T, err error, status int, cause error) {
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, status, pe.StatusCode)
	require.ErrorIs(t, err, cause)
}

func TestDecodeRequestContentLength(t *testing.T) {
	data := "POST /echo HTTP/1.1\r\nHost: localhost:8080\r\nContent-Length: 5\r\nAccept-Encoding: gzip, deflate\r\n\r\nhello"
	msgs := testSplits(t, requestDecoder, data)
	require.Len(t, msgs, 1)

	h := msgs[0].header
	require.True(t, h.IsRequest())
	require.Equal(t, "POST", h.Method)
	require.Equal(t, "/echo", h.Target)
	require.Equal(t, HTTP11, h.Proto)
	require.Equal(t, "localhost:8080", h.Text("Host"))
	require.True(t, h.HasPayload)
	cl, ok := h.ContentLength()
	require.True(t, ok)
	require.Equal(t, int64(5), cl)
	require.Equal(t, "hello", string(msgs[0].body))
	require.False(t, msgs[0].close)
}

func TestDecodeHeaderCompletedOnce(t *testing.T) {
	d := requestDecoder()
	data := []byte("POST / HTTP/1.1\r\nContent-Length: 4\r\n\r\nbody")
	out := make([]byte, 2)

	var headers, messages int
	for len(data) > 0 {
		res, err := d.Decode(data, out, false)
		require.NoError(t, err)
		require.False(t, res.Overflow && res.Underflow)
		data = data[res.Consumed:]
		if res.HeaderCompleted {
			headers++
			require.Equal(t, BodyLength, d.BodyMode())
		}
		if res.MessageCompleted {
			messages++
		}
	}
	require.Equal(t, 1, headers)
	require.Equal(t, 1, messages)
}

func TestDecodeChunked(t *testing.T) {
	data := "POST /wiki HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\nE\r\n in\r\n\r\nchunks.\r\n0\r\n\r\n"
	msgs := testSplits(t, requestDecoder, data)
	require.Len(t, msgs, 1)
	require.Equal(t, "Wikipedia in\r\n\r\nchunks.", string(msgs[0].body))
	require.True(t, msgs[0].header.Chunked())
}

func TestDecodeChunkExtensionsAndTrailer(t *testing.T) {
	data := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nTrailer: Md5\r\n\r\n" +
		"4;name=value \r\nbody\r\n0\r\nMd5: 841a2d689ad86bd1611447453c22c6fc\r\n\r\n"
	msgs := testSplits(t, responseDecoder, data)
	require.Len(t, msgs, 1)
	require.Equal(t, "body", string(msgs[0].body))
	require.Equal(t, "Md5", msgs[0].header.Text("Trailer"))
}

func TestDecodeTransferEncodingWinsOverContentLength(t *testing.T) {
	for _, data := range []string{
		"POST / HTTP/1.1\r\nContent-Length: 100\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n",
		"POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\nContent-Length: 100\r\n\r\n3\r\nabc\r\n0\r\n\r\n",
	} {
		msgs := testSplits(t, requestDecoder, data)
		require.Len(t, msgs, 1)
		require.Equal(t, "abc", string(msgs[0].body))
		_, ok := msgs[0].header.ContentLength()
		require.False(t, ok)
	}
}

func TestDecodeDuplicateContentLength(t *testing.T) {
	msgs := testSplits(t, requestDecoder, "POST / HTTP/1.1\r\nContent-Length: 3\r\nContent-Length: 3\r\n\r\nabc")
	require.Len(t, msgs, 1)
	require.Equal(t, "abc", string(msgs[0].body))

	_, _, err := decodeChunks(requestDecoder(), whole("POST / HTTP/1.1\r\nContent-Length: 3\r\nContent-Length: 4\r\n\r\nabcd"), 64)
	requireProtocolError(t, err, 400, ErrContentLengthMismatch)
}

func TestDecodeInvalidContentLength(t *testing.T) {
	for _, v := range []string{"-1", "1e3", "", " ", "0x10", "1234567890123456789"} {
		_, _, err := decodeChunks(requestDecoder(), whole("POST / HTTP/1.1\r\nContent-Length: "+v+"\r\n\r\n"), 64)
		requireProtocolError(t, err, 400, ErrInvalidContentLength)
	}
}

func TestDecodeHeaderTooLong(t *testing.T) {
	conf := Config{MaxHeaderLength: 32}

	_, _, err := decodeChunks(NewRequestDecoder(conf), whole("GET / HTTP/1.1\r\nX-Long: "+strings.Repeat("a", 40)+"\r\n\r\n"), 64)
	requireProtocolError(t, err, 431, ErrTooLong)

	// every line fits, the section does not
	_, _, err = decodeChunks(NewRequestDecoder(conf), byteByByte("GET / HTTP/1.1\r\nA: 1234567\r\nB: 12345\r\n\r\n"), 64)
	requireProtocolError(t, err, 431, ErrTooLong)

	// body bytes do not count
	msgs, _, err := decodeChunks(NewRequestDecoder(Config{MaxHeaderLength: 48}), whole("POST / HTTP/1.1\r\nContent-Length: 100\r\n\r\n"+strings.Repeat("b", 100)), 64)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestDecodeContinuationLines(t *testing.T) {
	data := "GET / HTTP/1.1\r\nX-Folded: first\r\n  second\r\n\tthird\r\nHost: example.com\r\n\r\n"
	msgs := testSplits(t, requestDecoder, data)
	require.Len(t, msgs, 1)
	require.Equal(t, "first second third", msgs[0].header.Text("X-Folded"))
	require.Equal(t, "example.com", msgs[0].header.Text("Host"))

	_, _, err := decodeChunks(requestDecoder(), whole("GET / HTTP/1.1\r\n folded\r\n\r\n"), 64)
	requireProtocolError(t, err, 400, ErrInvalidHeaderLine)
}

func TestDecodeUntilClose(t *testing.T) {
	data := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\nhello world"
	msgs := testSplits(t, responseDecoder, data)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello world", string(msgs[0].body))
	require.True(t, msgs[0].close)
	require.True(t, msgs[0].header.HasPayload)

	d := responseDecoder()
	out := make([]byte, 64)
	res, err := d.Decode([]byte(data), out, false)
	require.NoError(t, err)
	require.True(t, res.HeaderCompleted)
	require.True(t, res.Underflow)
	require.False(t, res.MessageCompleted)
	require.Equal(t, BodyUntilClose, d.BodyMode())
}

func TestDecodeResponsesWithoutBody(t *testing.T) {
	d := responseDecoder()
	d.ExpectResponseTo("HEAD")
	msgs, _, err := decodeChunks(d, whole("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"), 64)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Empty(t, msgs[0].body)
	require.False(t, msgs[0].header.HasPayload)
	require.Equal(t, "hi", string(msgs[1].body))

	data := "HTTP/1.1 100 Continue\r\n\r\n" +
		"HTTP/1.1 204 No Content\r\n\r\n" +
		"HTTP/1.1 304 Not Modified\r\nContent-Length: 7\r\n\r\n" +
		"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	msgs = testSplits(t, responseDecoder, data)
	require.Len(t, msgs, 4)
	require.Equal(t, 100, msgs[0].header.StatusCode)
	require.Equal(t, "Continue", msgs[0].header.Reason)
	require.Equal(t, 204, msgs[1].header.StatusCode)
	require.Equal(t, 304, msgs[2].header.StatusCode)
	require.Empty(t, msgs[2].body)
	require.Equal(t, "ok", string(msgs[3].body))
}

func TestDecodeInvalidCRLF(t *testing.T) {
	for _, data := range []string{
		"GET / HTTP/1.1\rX\r\n\r\n",
		"GET / HTTP/1.1\nHost: a\r\n\r\n",
		"GET / HTTP/1.1\r\nHost: a\n\r\n",
	} {
		_, _, err := decodeChunks(requestDecoder(), whole(data), 64)
		requireProtocolError(t, err, 400, ErrInvalidCRLF)

		_, _, err = decodeChunks(requestDecoder(), byteByByte(data), 64)
		requireProtocolError(t, err, 400, ErrInvalidCRLF)
	}
}

func TestDecodeInvalidStartLine(t *testing.T) {
	cases := []struct {
		response bool
		data     string
		err      error
	}{
		{false, "GET /\r\n\r\n", ErrInvalidStartLine},
		{false, "GET  / HTTP/1.1\r\n\r\n", ErrInvalidStartLine},
		{false, "GET / HTTP/1\r\n\r\n", ErrInvalidHTTPVersion},
		{false, "GET / http/1.1\r\n\r\n", ErrInvalidHTTPVersion},
		{false, "G(T / HTTP/1.1\r\n\r\n", ErrInvalidMethod},
		{false, "GET /a\x7fb HTTP/1.1\r\n\r\n", ErrInvalidRequestURI},
		{true, "HTTP/1.1 20 OK\r\n\r\n", ErrInvalidHTTPStatusCode},
		{true, "HTTP/1.1 2x0 OK\r\n\r\n", ErrInvalidHTTPStatusCode},
		{true, "HTTP/1.1\r\n\r\n", ErrInvalidStartLine},
	}
	for _, c := range cases {
		d := requestDecoder()
		if c.response {
			d = responseDecoder()
		}
		_, _, err := decodeChunks(d, whole(c.data), 64)
		requireProtocolError(t, err, 400, c.err)
	}

	// empty reason phrase
	msgs, _, err := decodeChunks(responseDecoder(), whole("HTTP/1.1 200\r\nContent-Length: 0\r\n\r\n"), 64)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, 200, msgs[0].header.StatusCode)
	require.Equal(t, "", msgs[0].header.Reason)
}

func TestDecodeDuplicateFields(t *testing.T) {
	_, _, err := decodeChunks(requestDecoder(), whole("GET / HTTP/1.1\r\nHost: a\r\nHost: b\r\n\r\n"), 64)
	requireProtocolError(t, err, 400, ErrDuplicateField)

	_, _, err = decodeChunks(requestDecoder(), whole("GET / HTTP/1.1\r\nLocation: /a\r\nLocation: /b\r\n\r\n"), 64)
	requireProtocolError(t, err, 400, ErrDuplicateField)

	msgs := testSplits(t, requestDecoder, "GET / HTTP/1.1\r\nAccept: text/html\r\nX-Custom: 1\r\naccept: application/json\r\nConnection: keep-alive\r\nConnection: upgrade\r\n\r\n")
	require.Len(t, msgs, 1)
	h := msgs[0].header
	require.Equal(t, "text/html, application/json", h.Text("Accept"))
	require.Equal(t, TokenList{"keep-alive", "upgrade"}, h.Connection())
	require.Equal(t, 3, h.Len())
	require.Equal(t, "Accept", h.Fields()[0].Name)
	require.Equal(t, "X-Custom", h.Fields()[1].Name)
}

func TestDecodeInvalidFields(t *testing.T) {
	for _, data := range []string{
		"GET / HTTP/1.1\r\nNoColon\r\n\r\n",
		"GET / HTTP/1.1\r\n: empty\r\n\r\n",
	} {
		_, _, err := decodeChunks(requestDecoder(), whole(data), 64)
		requireProtocolError(t, err, 400, ErrInvalidHeaderLine)
	}

	_, _, err := decodeChunks(requestDecoder(), whole("GET / HTTP/1.1\r\nHost : a\r\n\r\n"), 64)
	requireProtocolError(t, err, 400, ErrInvalidFieldName)

	_, _, err = decodeChunks(requestDecoder(), whole("GET / HTTP/1.1\r\nX-A: a\x00b\r\n\r\n"), 64)
	requireProtocolError(t, err, 400, ErrInvalidFieldValue)
}

func TestDecodeLatin1HeaderValue(t *testing.T) {
	msgs := testSplits(t, requestDecoder, "GET / HTTP/1.1\r\nX-Name: caf\xe9\r\n\r\n")
	require.Len(t, msgs, 1)
	require.Equal(t, "café", msgs[0].header.Text("X-Name"))
}

func TestDecodePipelined(t *testing.T) {
	data := "GET /1 HTTP/1.1\r\nHost: a\r\n\r\n" +
		"POST /2 HTTP/1.1\r\nHost: a\r\nContent-Length: 3\r\n\r\nabc" +
		"\r\n" +
		"POST /3 HTTP/1.1\r\nHost: a\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nde\r\n0\r\n\r\n" +
		"GET /4 HTTP/1.1\r\nConnection: close\r\n\r\n"
	msgs := testSplits(t, requestDecoder, data)
	require.Len(t, msgs, 4)
	require.Equal(t, "/1", msgs[0].header.Target)
	require.Equal(t, "abc", string(msgs[1].body))
	require.Equal(t, "de", string(msgs[2].body))
	require.Equal(t, "/4", msgs[3].header.Target)
	require.False(t, msgs[2].close)
	require.True(t, msgs[3].close)
}

func TestDecodeMessageBoundary(t *testing.T) {
	d := requestDecoder()
	data := []byte("POST / HTTP/1.1\r\nContent-Length: 1\r\n\r\naPOST / HTTP/1.1\r\nContent-Length: 1\r\n\r\nb")
	out := make([]byte, 64)

	res, err := d.Decode(data, out, false)
	require.NoError(t, err)
	require.True(t, res.MessageCompleted)
	require.Equal(t, "a", string(out[:res.Produced]))

	res, err = d.Decode(data[res.Consumed:], out, false)
	require.NoError(t, err)
	require.True(t, res.MessageCompleted)
	require.Equal(t, "b", string(out[:res.Produced]))
}

func TestDecodeStrayCRLF(t *testing.T) {
	msgs := testSplits(t, requestDecoder, "\r\n\r\nGET / HTTP/1.1\r\nHost: a\r\n\r\n")
	require.Len(t, msgs, 1)
	require.Equal(t, "GET", msgs[0].header.Method)
}

func TestDecodeBadChunks(t *testing.T) {
	prefix := "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"

	_, _, err := decodeChunks(requestDecoder(), whole(prefix+"4\r\nWikiX\r\n0\r\n\r\n"), 64)
	requireProtocolError(t, err, 400, ErrInvalidChunkEnd)

	for _, size := range []string{"", "g", "-1", "1 2", "1000000000000000"} {
		_, _, err = decodeChunks(requestDecoder(), whole(prefix+size+"\r\n"), 64)
		requireProtocolError(t, err, 400, ErrInvalidChunkSize)
	}
}

func TestDecodeUnsupportedTransferEncoding(t *testing.T) {
	_, _, err := decodeChunks(requestDecoder(), whole("POST / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n"), 64)
	requireProtocolError(t, err, 501, ErrUnsupportedTransferEncoding)

	msgs, closed, err := decodeChunks(responseDecoder(), whole("HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip\r\n\r\nzzz"), 64)
	require.NoError(t, err)
	require.True(t, closed)
	require.Len(t, msgs, 1)
	require.Equal(t, "zzz", string(msgs[0].body))
}

func TestDecodeEndOfInput(t *testing.T) {
	d := requestDecoder()
	res, err := d.Decode(nil, nil, true)
	require.NoError(t, err)
	require.True(t, res.CloseConnection)
	require.False(t, res.MessageCompleted)

	_, _, err = decodeChunks(requestDecoder(), whole("POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc"), 64)
	requireProtocolError(t, err, 400, ErrUnexpectedEOF)

	_, _, err = decodeChunks(requestDecoder(), whole("GET / HTTP/1.1\r\nHost: a"), 64)
	requireProtocolError(t, err, 400, ErrUnexpectedEOF)

	_, closed, err := decodeChunks(requestDecoder(), whole("GET / HTTP/1.1\r\n\r\n"), 64)
	require.NoError(t, err)
	require.True(t, closed)
}

func TestDecodeCloseConnection(t *testing.T) {
	msgs := testSplits(t, requestDecoder, "GET / HTTP/1.0\r\n\r\n")
	require.True(t, msgs[0].close)
	require.Equal(t, HTTP10, msgs[0].header.Proto)

	msgs = testSplits(t, requestDecoder, "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	require.False(t, msgs[0].close)

	msgs = testSplits(t, requestDecoder, "GET / HTTP/1.1\r\nConnection: Close\r\n\r\n")
	require.True(t, msgs[0].close)
}

func TestDecodeStickyError(t *testing.T) {
	d := requestDecoder()
	out := make([]byte, 64)

	_, err := d.Decode([]byte("BAD\r\n"), out, false)
	requireProtocolError(t, err, 400, ErrInvalidStartLine)

	good := []byte("GET / HTTP/1.1\r\n\r\n")
	_, err2 := d.Decode(good, out, false)
	require.Equal(t, err, err2)

	d.Reset()
	res, err := d.Decode(good, out, false)
	require.NoError(t, err)
	require.True(t, res.MessageCompleted)
	require.Equal(t, "GET", d.Header().Method)
}

func TestDecodeProtocolErrorVersion(t *testing.T) {
	_, _, err := decodeChunks(requestDecoder(), whole("GET / HTTP/1.0\r\nHost: a\r\nHost: b\r\n\r\n"), 64)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, HTTP10, pe.Proto)
	require.Contains(t, pe.Error(), "400")
}

var benchRequest = []byte("POST /joyent/http-parser HTTP/1.1\r\n" +
	"Host: github.com\r\n" +
	"DNT: 1\r\n" +
	"Accept-Encoding: gzip, deflate, sdch\r\n" +
	"Accept-Language: ru-RU,ru;q=0.8,en-US;q=0.6,en;q=0.4\r\n" +
	"User-Agent: Mozilla/5.0 (Macintosh; Intel Mac OS X 10_10_1) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/39.0.2171.65 Safari/537.36\r\n" +
	"Accept: text/html,application/xhtml+xml,application/xml;q=0.9," +
	"image/webp,*/*;q=0.8\r\n" +
	"Referer: https://github.com/joyent/http-parser\r\n" +
	"Connection: keep-alive\r\n" +
	"Transfer-Encoding: chunked\r\n" +
	"Cache-Control: max-age=0\r\n\r\nb\r\nhello world\r\n0\r\n\r\n")

func BenchmarkDecoder(b *testing.B) {
	d := requestDecoder()
	out := make([]byte, 4096)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		in := benchRequest
		for len(in) > 0 {
			res, err := d.Decode(in, out, false)
			if err != nil {
				b.Fatal(err)
			}
			in = in[res.Consumed:]
		}
	}
}
