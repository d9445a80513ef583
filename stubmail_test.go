package stubmail

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/smtp"
	"net/textproto"
	"strings"
	"testing"
	"time"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stubmail/stubmail/config"
)

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.SMTP = config.ServerConfig{Start: true, Addr: "127.0.0.1:0"}
	cfg.IMAP = config.ServerConfig{Start: true, Addr: "127.0.0.1:0"}
	cfg.POP3 = config.ServerConfig{Start: true, Addr: "127.0.0.1:0"}
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return srv
}

const testMessage = "From: sender@example.org\r\n" +
	"To: to@example.com\r\n" +
	"Subject: round trip\r\n" +
	"\r\n" +
	"Sent over SMTP, read back over IMAP and POP3.\r\n"

// sendMail submits a message the way net/smtp.SendMail does, but upgrades
// via STARTTLS with certificate checks off: every listener carries a
// self-signed certificate, which SendMail's automatic upgrade would reject.
func sendMail(t *testing.T, addr, from string, to []string, msg []byte) {
	t.Helper()

	c, err := smtp.Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		require.NoError(t, c.StartTLS(&tls.Config{InsecureSkipVerify: true}))
	}
	require.NoError(t, c.Mail(from))
	for _, rcpt := range to {
		require.NoError(t, c.Rcpt(rcpt))
	}
	w, err := c.Data()
	require.NoError(t, err)
	_, err = w.Write(msg)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, c.Quit())
}

func TestNewRequiresListeners(t *testing.T) {
	_, err := New(config.NewDefaultConfig())
	assert.Error(t, err)
}

func TestSendAndRetrieveRoundTrip(t *testing.T) {
	srv := startServer(t, testConfig())
	srv.SetUser("to@example.com", "to", "secret")

	sendMail(t, srv.Addr("smtp"), "sender@example.org",
		[]string{"to@example.com"}, []byte(testMessage))

	require.True(t, srv.WaitForIncomingEmail(5*time.Second, 1))
	received := srv.ReceivedMessages()
	require.Len(t, received, 1)
	assert.Equal(t, "round trip", received[0].Message.Envelope().Subject)

	// IMAP sees it.
	c, err := imapclient.DialInsecure(srv.Addr("imap"), nil)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Login("to", "secret").Wait())
	mbox, err := c.Select("INBOX", nil).Wait()
	require.NoError(t, err)
	require.Equal(t, uint32(1), mbox.NumMessages)

	results, err := c.Fetch(goimap.SeqSetNum(1), &goimap.FetchOptions{Envelope: true}).Collect()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "round trip", results[0].Envelope.Subject)

	// POP3 sees it too.
	conn, err := net.Dial("tcp", srv.Addr("pop3"))
	require.NoError(t, err)
	pc := textproto.NewConn(conn)
	defer pc.Close()

	readOK := func() string {
		line, err := pc.ReadLine()
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(line, "+OK"), "got %q", line)
		return line
	}
	cmd := func(format string, args ...any) string {
		require.NoError(t, pc.PrintfLine(format, args...))
		return readOK()
	}

	readOK() // greeting
	cmd("USER to")
	cmd("PASS secret")
	cmd("RETR 1")
	lines, err := pc.ReadDotLines()
	require.NoError(t, err)
	assert.Contains(t, strings.Join(lines, "\r\n"), "Subject: round trip")
	cmd("QUIT")
}

func TestWaitForIncomingEmailCountIsAbsolute(t *testing.T) {
	srv := startServer(t, testConfig())
	srv.SetUser("to@example.com", "to", "secret")

	send := func() {
		sendMail(t, srv.Addr("smtp"), "sender@example.org",
			[]string{"to@example.com"}, []byte(testMessage))
	}

	send()
	send()
	assert.True(t, srv.WaitForIncomingEmail(0, 2))
	assert.True(t, srv.WaitForIncomingEmail(0, 1))
	assert.False(t, srv.WaitForIncomingEmail(50*time.Millisecond, 3))
}

func TestPurgeResetsEverything(t *testing.T) {
	srv := startServer(t, testConfig())
	u := srv.SetUser("to@example.com", "to", "secret")

	sendMail(t, srv.Addr("smtp"), "sender@example.org",
		[]string{"to@example.com"}, []byte(testMessage))
	require.True(t, srv.WaitForIncomingEmail(5*time.Second, 1))

	assert.Equal(t, 1, srv.Purge())
	assert.Empty(t, srv.ReceivedMessages())
	assert.Equal(t, uint32(0), u.Inbox().NumMessages())
	assert.False(t, srv.WaitForIncomingEmail(0, 1))
}

func TestImplicitTLSListeners(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.SMTPS = config.ServerConfig{Start: true, Addr: "127.0.0.1:0", TLS: true, TLSSelfSigned: true}
	cfg.IMAPS = config.ServerConfig{Start: true, Addr: "127.0.0.1:0", TLS: true, TLSSelfSigned: true}
	srv := startServer(t, cfg)
	srv.SetUser("to@example.com", "to", "secret")

	tlsConfig := &tls.Config{InsecureSkipVerify: true}

	// SMTPS accepts a TLS handshake and a banner follows.
	conn, err := tls.Dial("tcp", srv.Addr("smtps"), tlsConfig)
	require.NoError(t, err)
	tc := textproto.NewConn(conn)
	line, err := tc.ReadLine()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "220"), "got %q", line)
	tc.Close()

	// IMAPS works end to end.
	c, err := imapclient.DialTLS(srv.Addr("imaps"), &imapclient.Options{TLSConfig: tlsConfig})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Login("to", "secret").Wait())
}

func TestTLSWithoutCertificateFails(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.SMTPS = config.ServerConfig{Start: true, Addr: "127.0.0.1:0", TLS: true}
	srv, err := New(cfg)
	require.NoError(t, err)
	assert.Error(t, srv.Start(context.Background()))
}

func TestControlAPI(t *testing.T) {
	cfg := testConfig()
	cfg.API = config.APIConfig{Start: true, Addr: "127.0.0.1:0"}
	srv := startServer(t, cfg)
	srv.SetUser("to@example.com", "to", "secret")

	resp, err := http.Get("http://" + srv.Addr("api") + "/api/v1/readiness")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + srv.Addr("api") + "/api/v1/users")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAddrForDisabledProtocol(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.SMTP = config.ServerConfig{Start: true, Addr: "127.0.0.1:0"}
	srv := startServer(t, cfg)

	assert.NotEmpty(t, srv.Addr("smtp"))
	assert.Empty(t, srv.Addr("imap"))
}

func TestStopIsIdempotent(t *testing.T) {
	srv := startServer(t, testConfig())
	addr := srv.Addr("smtp")

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)

	// A stopped server cannot be restarted.
	assert.Error(t, srv.Start(context.Background()))
}

func TestStartupUsers(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Users = []config.UserConfig{
		{Email: "alice@example.com", Login: "alice", Password: "secret"},
	}
	srv := startServer(t, cfg)

	u, err := srv.Store().User("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email())
}
