package pop3

import (
	"bufio"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/stubmail/stubmail/pkg/metrics"
	"github.com/stubmail/stubmail/server"
	"github.com/stubmail/stubmail/server/idgen"
	"github.com/stubmail/stubmail/store"
)

const Pop3MaxErrorsAllowed = 3          // Maximum number of errors tolerated before the connection is terminated
const Pop3IdleTimeout = 5 * time.Minute // Maximum duration of inactivity before the connection is closed

// POP3 session states per RFC 1939. The UPDATE state only exists inside
// the QUIT handler.
const (
	stateAuthorization = iota
	stateTransaction
)

type POP3Session struct {
	*server.Session
	server *POP3Server
	conn   net.Conn

	reader *bufio.Reader
	writer *bufio.Writer

	state    int
	username string
	user     *store.User
	inbox    *store.Folder

	// messages is the TRANSACTION snapshot: message numbers stay stable
	// for the whole session regardless of concurrent mailbox changes.
	messages []*store.Message
	deleted  map[int]bool

	// apopBanner is the timestamp string from the greeting, the APOP
	// challenge.
	apopBanner string

	tlsActive   bool
	errorsCount int
}

func newSession(s *POP3Server, conn net.Conn) *POP3Session {
	remoteIP := ""
	if host, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		remoteIP = host
	}
	_, tlsActive := conn.(*tls.Conn)

	return &POP3Session{
		Session: &server.Session{
			Id:       idgen.New(),
			RemoteIP: remoteIP,
			HostName: s.hostname,
			Protocol: s.name,
		},
		server:     s,
		conn:       conn,
		reader:     bufio.NewReader(conn),
		writer:     bufio.NewWriter(conn),
		deleted:    make(map[int]bool),
		apopBanner: fmt.Sprintf("<%d.%d@%s>", os.Getpid(), time.Now().UnixNano(), s.hostname),
		tlsActive:  tlsActive,
	}
}

func (s *POP3Session) handleConnection() {
	defer s.conn.Close()

	s.writeLine("+OK POP3 server ready " + s.apopBanner)
	s.Log("connected")

	for {
		s.conn.SetReadDeadline(time.Now().Add(Pop3IdleTimeout))

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.writeLine("-ERR Connection timed out due to inactivity")
				s.Log("timed out")
			} else if err == io.EOF {
				s.Log("client dropped connection")
			} else {
				s.DebugLog("read error: %v", err)
			}
			return
		}

		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) == 0 {
			if s.clientError("-ERR Invalid command") {
				return
			}
			continue
		}
		cmd := strings.ToUpper(parts[0])
		args := parts[1:]

		start := time.Now()
		quit, fatal := s.dispatch(cmd, args)
		metrics.CommandDuration.WithLabelValues(s.Protocol, cmd).Observe(time.Since(start).Seconds())
		if quit || fatal {
			return
		}
	}
}

// dispatch runs one command. quit means an orderly QUIT happened; fatal
// means the session must end without the UPDATE phase.
func (s *POP3Session) dispatch(cmd string, args []string) (quit, fatal bool) {
	switch cmd {
	case "CAPA":
		s.handleCapa()
	case "NOOP":
		s.writeLine("+OK")
	case "QUIT":
		s.handleQuit()
		return true, false
	case "USER":
		return false, s.handleUser(args)
	case "PASS":
		return false, s.handlePass(args)
	case "APOP":
		return false, s.handleApop(args)
	case "STLS":
		return false, s.handleStls()
	case "STAT":
		return false, s.inTransaction(func() { s.handleStat() })
	case "LIST":
		return false, s.inTransaction(func() { s.handleList(args) })
	case "UIDL":
		return false, s.inTransaction(func() { s.handleUidl(args) })
	case "RETR":
		return false, s.inTransaction(func() { s.handleRetr(args) })
	case "TOP":
		return false, s.inTransaction(func() { s.handleTop(args) })
	case "DELE":
		return false, s.inTransaction(func() { s.handleDele(args) })
	case "RSET":
		return false, s.inTransaction(func() { s.handleRset() })
	default:
		metrics.TrackCommand(s.Protocol, cmd, fmt.Errorf("unknown command"))
		return false, s.clientError("-ERR Unknown command")
	}
	metrics.TrackCommand(s.Protocol, cmd, nil)
	return false, false
}

// inTransaction guards TRANSACTION-state commands.
func (s *POP3Session) inTransaction(fn func()) bool {
	if s.state != stateTransaction {
		return s.clientError("-ERR Not authenticated")
	}
	fn()
	return false
}

func (s *POP3Session) handleCapa() {
	s.writeLine("+OK Capability list follows")
	s.writeLine("TOP")
	s.writeLine("USER")
	s.writeLine("UIDL")
	s.writeLine("RESP-CODES")
	if s.server.tlsConfig != nil && !s.tlsActive {
		s.writeLine("STLS")
	}
	s.writeLine("IMPLEMENTATION stubmail")
	s.writeLine(".")
}

func (s *POP3Session) handleStls() bool {
	if s.state != stateAuthorization {
		return s.clientError("-ERR STLS only allowed before authentication")
	}
	if s.server.tlsConfig == nil || s.tlsActive {
		return s.clientError("-ERR STLS not available")
	}

	s.writeLine("+OK Begin TLS negotiation")

	tlsConn := tls.Server(s.conn, s.server.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.Log("STLS handshake failed: %v", err)
		return true
	}
	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.DebugLog("STLS established")
	return false
}

func (s *POP3Session) handleUser(args []string) bool {
	if s.state != stateAuthorization {
		return s.clientError("-ERR Already authenticated")
	}
	if len(args) < 1 {
		return s.clientError("-ERR Missing username")
	}
	s.username = args[0]
	s.writeLine("+OK")
	return false
}

func (s *POP3Session) handlePass(args []string) bool {
	if s.state != stateAuthorization || s.username == "" {
		return s.clientError("-ERR USER required first")
	}
	if len(args) < 1 {
		return s.clientError("-ERR Missing password")
	}

	user, err := s.server.store.Authenticate(s.username, args[0])
	if err != nil {
		metrics.AuthenticationAttempts.WithLabelValues(s.Protocol, "failure").Inc()
		s.Log("authentication failed for %s", s.username)
		return s.clientError("-ERR [AUTH] Invalid credentials")
	}
	return s.enterTransaction(user)
}

// handleApop verifies an APOP digest: MD5 over the greeting banner
// concatenated with the shared secret (RFC 1939 section 7).
func (s *POP3Session) handleApop(args []string) bool {
	if s.state != stateAuthorization {
		return s.clientError("-ERR Already authenticated")
	}
	if len(args) < 2 {
		return s.clientError("-ERR Usage: APOP name digest")
	}
	name, digest := args[0], strings.ToLower(args[1])

	var user *store.User
	if s.server.store.AuthDisabled() {
		u, err := s.server.store.Authenticate(name, "")
		if err != nil {
			return s.clientError("-ERR [AUTH] Invalid credentials")
		}
		user = u
	} else {
		u, err := s.server.store.User(name)
		if err != nil {
			metrics.AuthenticationAttempts.WithLabelValues(s.Protocol, "failure").Inc()
			return s.clientError("-ERR [AUTH] Invalid credentials")
		}
		sum := md5.Sum([]byte(s.apopBanner + u.Password()))
		if hex.EncodeToString(sum[:]) != digest {
			metrics.AuthenticationAttempts.WithLabelValues(s.Protocol, "failure").Inc()
			s.Log("APOP digest mismatch for %s", name)
			return s.clientError("-ERR [AUTH] Invalid credentials")
		}
		user = u
	}
	return s.enterTransaction(user)
}

// enterTransaction snapshots the INBOX; message numbers are frozen from
// here on.
func (s *POP3Session) enterTransaction(user *store.User) bool {
	metrics.AuthenticationAttempts.WithLabelValues(s.Protocol, "success").Inc()
	s.User = user
	s.user = user
	s.inbox = user.Inbox()
	s.messages = s.inbox.Snapshot()
	s.deleted = make(map[int]bool)
	s.state = stateTransaction

	s.Log("authenticated, %d messages", len(s.messages))
	s.writeLine(fmt.Sprintf("+OK Mailbox open, %d messages", len(s.messages)))
	return false
}

func (s *POP3Session) handleStat() {
	count := 0
	var size int64
	for i, m := range s.messages {
		if !s.deleted[i] {
			count++
			size += m.Size()
		}
	}
	s.writeLine(fmt.Sprintf("+OK %d %d", count, size))
}

func (s *POP3Session) handleList(args []string) {
	if len(args) > 0 {
		msgNumber, err := strconv.Atoi(args[0])
		if err != nil {
			s.clientError("-ERR Invalid message number")
			return
		}
		ok, line := buildSingleListResponse(s.messages, s.deleted, msgNumber)
		if !ok {
			s.clientError("-ERR No such message")
			return
		}
		s.writeLine("+OK " + line)
		return
	}

	s.writeLine(fmt.Sprintf("+OK %d messages", countNonDeletedMessages(s.messages, s.deleted)))
	for _, line := range buildListResponseLines(s.messages, s.deleted) {
		s.writeLine(line)
	}
	s.writeLine(".")
}

func (s *POP3Session) handleUidl(args []string) {
	if len(args) > 0 {
		msgNumber, err := strconv.Atoi(args[0])
		if err != nil || msgNumber < 1 || msgNumber > len(s.messages) || s.deleted[msgNumber-1] {
			s.clientError("-ERR No such message")
			return
		}
		s.writeLine(fmt.Sprintf("+OK %d %d", msgNumber, s.messages[msgNumber-1].UID))
		return
	}

	s.writeLine("+OK")
	for _, line := range buildUIDLResponseLines(s.messages, s.deleted) {
		s.writeLine(line)
	}
	s.writeLine(".")
}

func (s *POP3Session) handleRetr(args []string) {
	msg, ok := s.lookupMessage(args)
	if !ok {
		return
	}
	s.writeLine(fmt.Sprintf("+OK %d octets", msg.Size()))
	s.writeMultilineData(string(msg.Raw))
	s.DebugLog("retrieved message uid=%d", msg.UID)
}

// handleTop returns the header plus the first n lines of the body
// (RFC 1939 section 7). TOP x 0 yields the header and the blank separator
// line only.
func (s *POP3Session) handleTop(args []string) {
	if len(args) < 2 {
		s.clientError("-ERR Usage: TOP msg n")
		return
	}
	lines, err := strconv.Atoi(args[1])
	if err != nil || lines < 0 {
		s.clientError("-ERR Invalid line count")
		return
	}
	msg, ok := s.lookupMessage(args[:1])
	if !ok {
		return
	}

	header := string(msg.Raw[:len(msg.Raw)-len(msg.Body())])
	body := string(msg.Body())

	var b strings.Builder
	b.WriteString(header)
	if lines > 0 && body != "" {
		bodyLines := strings.SplitAfter(body, "\r\n")
		for i := 0; i < len(bodyLines) && i < lines; i++ {
			b.WriteString(bodyLines[i])
		}
	}

	s.writeLine("+OK")
	s.writeMultilineData(b.String())
}

func (s *POP3Session) handleDele(args []string) {
	msg, ok := s.lookupMessage(args)
	if !ok {
		return
	}
	for i, m := range s.messages {
		if m == msg {
			if s.deleted[i] {
				s.clientError("-ERR Message already deleted")
				return
			}
			s.deleted[i] = true
			break
		}
	}
	s.writeLine("+OK Message deleted")
	s.DebugLog("marked message uid=%d for deletion", msg.UID)
}

func (s *POP3Session) handleRset() {
	s.deleted = make(map[int]bool)
	s.writeLine("+OK")
}

// handleQuit runs the UPDATE phase: messages marked with DELE are now
// removed from the mailbox, and only now (RFC 1939 section 6).
func (s *POP3Session) handleQuit() {
	if s.state == stateTransaction && len(s.deleted) > 0 {
		uids := make([]imap.UID, 0, len(s.deleted))
		for i := range s.deleted {
			uids = append(uids, s.messages[i].UID)
		}
		removed := s.inbox.RemoveUIDs(uids)
		s.Log("expunged %d messages on QUIT", removed)
	}
	metrics.TrackCommand(s.Protocol, "QUIT", nil)
	s.writeLine("+OK Signing off")
	s.Log("disconnected")
}

// lookupMessage resolves the first argument as a message number into the
// session snapshot, emitting the protocol error itself on failure.
func (s *POP3Session) lookupMessage(args []string) (*store.Message, bool) {
	if len(args) < 1 {
		s.clientError("-ERR Missing message number")
		return nil, false
	}
	msgNumber, err := strconv.Atoi(args[0])
	if err != nil || msgNumber < 1 {
		s.clientError("-ERR Invalid message number")
		return nil, false
	}
	if msgNumber > len(s.messages) {
		s.clientError("-ERR No such message")
		return nil, false
	}
	// Messages marked by DELE stay retrievable until the UPDATE phase;
	// only the counting commands hide them.
	return s.messages[msgNumber-1], true
}

// clientError reports an error to the client and returns true when the
// session has exhausted its error budget and must be terminated.
func (s *POP3Session) clientError(response string) bool {
	s.errorsCount++
	s.writeLine(response)
	if s.errorsCount >= Pop3MaxErrorsAllowed {
		s.writeLine("-ERR Too many errors, closing connection")
		s.Log("too many errors")
		return true
	}
	return false
}

func (s *POP3Session) writeLine(line string) {
	s.writer.WriteString(line)
	s.writer.WriteString("\r\n")
	s.writer.Flush()
}

// writeMultilineData sends a dot-stuffed payload terminated by the
// CRLF.CRLF sequence.
func (s *POP3Session) writeMultilineData(data string) {
	s.writer.WriteString(dotStuffPOP3(data))
	if !strings.HasSuffix(data, "\r\n") {
		s.writer.WriteString("\r\n")
	}
	s.writer.WriteString(".\r\n")
	s.writer.Flush()
}
