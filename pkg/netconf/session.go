package netconf

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// endOfMessage NETCONF 1.0 消息分隔符
const endOfMessage = "]]>]]>"

// helloMessage 客户端 hello，声明 base:1.0 能力
const helloMessage = `<?xml version="1.0" encoding="UTF-8"?>
<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">
  <capabilities>
    <capability>urn:ietf:params:xml:ns:netconf:base:1.0</capability>
  </capabilities>
</hello>`

// ErrAuth 认证失败（用户名/密码被设备拒绝）
var ErrAuth = errors.New("netconf: authentication failed")

// Config 会话配置
type Config struct {
	Port           int           `yaml:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// Timeout 单次 RPC 的等待上限
	Timeout time.Duration `yaml:"timeout"`
}

// ConnectionInfo 设备连接信息
type ConnectionInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// defaultRPCTimeout 未配置超时时单次回复的等待上限
const defaultRPCTimeout = 60 * time.Second

// Session 一台设备的 NETCONF 会话（SSH netconf 子系统之上）
type Session struct {
	config *Config
	conn   *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser

	// messages/readErr 由会话唯一的读取协程投递；等待方只消费通道，
	// 超时放弃等待也不会产生第二个流读取方
	messages  chan string
	readErr   chan error
	messageID int
	closed    bool
}

// Dial 建立到设备的 NETCONF 会话：TCP 连接、SSH 认证、netconf 子系统、hello 交换
func Dial(ctx context.Context, config *Config, info *ConnectionInfo) (*Session, error) {
	sshConfig := &ssh.ClientConfig{
		User:            info.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         config.ConnectTimeout,
		Config: ssh.Config{
			// 支持旧版本的密钥交换算法
			KeyExchanges: []string{
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
				"diffie-hellman-group-exchange-sha256",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
			},
			// 支持旧版本的加密算法
			Ciphers: []string{
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"aes128-cbc",
				"3des-cbc",
			},
		},
		// 支持旧版本主机密钥算法
		HostKeyAlgorithms: []string{
			"ssh-rsa",
			"rsa-sha2-256",
			"rsa-sha2-512",
			"ecdsa-sha2-nistp256",
			"ecdsa-sha2-nistp384",
			"ecdsa-sha2-nistp521",
			"ssh-ed25519",
		},
	}

	// 同时尝试 password 与 keyboard-interactive，提高与网络设备的兼容性
	sshConfig.Auth = []ssh.AuthMethod{
		ssh.Password(info.Password),
		ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range questions {
				answers[i] = info.Password
			}
			return answers, nil
		}),
	}

	port := info.Port
	if port <= 0 || port > 65535 {
		port = 830
	}
	address := fmt.Sprintf("%s:%d", info.Host, port)

	dialer := &net.Dialer{Timeout: config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	if err != nil {
		conn.Close()
		// 认证拒绝与传输层失败分开归类
		if strings.Contains(strings.ToLower(err.Error()), "unable to authenticate") {
			return nil, fmt.Errorf("%w: %s: %v", ErrAuth, info.Host, err)
		}
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", address, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("failed to get stdout: %w", err)
	}

	if err := sess.RequestSubsystem("netconf"); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("failed to request netconf subsystem: %w", err)
	}

	s := &Session{
		config:   config,
		conn:     client,
		sess:     sess,
		stdin:    stdin,
		messages: make(chan string, 4),
		readErr:  make(chan error, 1),
	}
	go readLoop(stdout, s.messages, s.readErr)

	// hello 交换：先发客户端 hello，再消费设备 hello
	if _, err := io.WriteString(stdin, helloMessage+"\n"+endOfMessage+"\n"); err != nil {
		s.teardown()
		return nil, fmt.Errorf("failed to send hello: %w", err)
	}
	if _, err := s.readMessage(config.ConnectTimeout); err != nil {
		s.teardown()
		return nil, fmt.Errorf("failed to read device hello: %w", err)
	}

	return s, nil
}

// LoadConfigSet 以 set 格式装载候选配置（逐行配置命令）
func (s *Session) LoadConfigSet(commands []string) error {
	var text bytes.Buffer
	for _, cmd := range commands {
		if err := xml.EscapeText(&text, []byte(cmd)); err != nil {
			return fmt.Errorf("failed to escape config line: %w", err)
		}
		text.WriteString("\n")
	}

	body := fmt.Sprintf(`<load-configuration action="set" format="text"><configuration-set>%s</configuration-set></load-configuration>`, text.String())
	reply, err := s.rpc(body)
	if err != nil {
		return fmt.Errorf("load configuration failed: %w", err)
	}
	if err := checkReply(reply); err != nil {
		return fmt.Errorf("load configuration rejected: %w", err)
	}
	return nil
}

// Commit 提交候选配置
func (s *Session) Commit() error {
	reply, err := s.rpc("<commit/>")
	if err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	if err := checkReply(reply); err != nil {
		return fmt.Errorf("commit rejected: %w", err)
	}
	// 与原始 ncclient 行为一致：缺少 <ok/> 视为提交失败
	if !strings.Contains(reply, "<ok/>") && !strings.Contains(reply, "<ok></ok>") {
		return fmt.Errorf("commit reply missing ok: %s", snippet(reply))
	}
	return nil
}

// Close 关闭会话，所有退出路径均可安全调用（含失败路径与重复调用）
func (s *Session) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true

	// 尽力发送 close-session，设备端会话不残留；失败不阻塞关闭
	s.messageID++
	msg := fmt.Sprintf(`<rpc message-id="%d"><close-session/></rpc>`, s.messageID)
	if _, err := io.WriteString(s.stdin, msg+"\n"+endOfMessage+"\n"); err == nil {
		_, _ = s.readMessage(5 * time.Second)
	}

	return s.teardown()
}

// teardown 释放底层会话与连接
func (s *Session) teardown() error {
	var errs []string
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.sess != nil {
		if err := s.sess.Close(); err != nil && err != io.EOF {
			errs = append(errs, err.Error())
		}
		s.sess = nil
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		s.conn = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("session teardown: %s", strings.Join(errs, "; "))
	}
	return nil
}

// rpc 发送一条 RPC 并等待完整回复。
// 等待窗口由会话超时（而非批次上下文）决定：已下发的装载/提交步骤
// 总是执行到回复或超时，不会被批次取消半途遗弃
func (s *Session) rpc(body string) (string, error) {
	if s.conn == nil {
		return "", fmt.Errorf("netconf session not established")
	}

	s.messageID++
	msg := fmt.Sprintf(`<rpc message-id="%d">%s</rpc>`, s.messageID, body)
	if _, err := io.WriteString(s.stdin, msg+"\n"+endOfMessage+"\n"); err != nil {
		return "", fmt.Errorf("failed to send rpc: %w", err)
	}

	return s.readMessage(s.config.Timeout)
}

// readMessage 等待读取协程投递的下一条完整消息
func (s *Session) readMessage(timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-s.messages:
		return msg, nil
	case err := <-s.readErr:
		return "", err
	case <-timer.C:
		return "", fmt.Errorf("netconf: no reply within %s", timeout)
	}
}

// readLoop 会话唯一的流读取协程：积累字节并按分隔符切分完整消息，
// 分隔符之后的越界字节留待下一条回复。传输关闭时 Read 报错、协程结束
func readLoop(stdout io.Reader, messages chan<- string, readErr chan<- error) {
	var pending bytes.Buffer
	buf := make([]byte, 4096)
	for {
		for {
			idx := bytes.Index(pending.Bytes(), []byte(endOfMessage))
			if idx < 0 {
				break
			}
			msg := string(pending.Bytes()[:idx])
			rest := append([]byte(nil), pending.Bytes()[idx+len(endOfMessage):]...)
			pending.Reset()
			pending.Write(rest)
			messages <- msg
		}
		n, err := stdout.Read(buf)
		if n > 0 {
			pending.Write(buf[:n])
		}
		if err != nil {
			readErr <- fmt.Errorf("netconf stream read failed: %w", err)
			return
		}
	}
}

// rpcErrorDetail rpc-error 的关键字段
type rpcErrorDetail struct {
	Severity string `xml:"error-severity"`
	Message  string `xml:"error-message"`
}

// checkReply 从回复中提取 rpc-error；severity 为 warning 的条目不算失败
func checkReply(reply string) error {
	if !strings.Contains(reply, "<rpc-error") {
		return nil
	}

	decoder := xml.NewDecoder(strings.NewReader(reply))
	var failures []string
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			// 回复不是合法 XML：保守地按失败处理
			return fmt.Errorf("rpc-error present, reply unparsable: %s", snippet(reply))
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "rpc-error" {
			continue
		}
		var detail rpcErrorDetail
		if err := decoder.DecodeElement(&detail, &start); err != nil {
			return fmt.Errorf("rpc-error present, detail unparsable: %s", snippet(reply))
		}
		if strings.EqualFold(strings.TrimSpace(detail.Severity), "warning") {
			continue
		}
		msg := strings.TrimSpace(detail.Message)
		if msg == "" {
			msg = "unspecified rpc-error"
		}
		failures = append(failures, msg)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%s", strings.Join(failures, "; "))
	}
	return nil
}

// snippet 截断回复文本用于错误信息
func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
