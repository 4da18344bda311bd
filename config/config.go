// Package config implements the configuration store (C7): INI-style
// loading of the main configuration and the users file, validation,
// and the hot/log-restart/process-restart reload classification.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pgvictoria/pgvictoria/pgerr"
	"github.com/pgvictoria/pgvictoria/secret"
)

// LogType names the logging sink.
type LogType int

const (
	LogConsole LogType = iota
	LogFile
	LogSyslog
)

// LogLevel names the logging verbosity, including the five debug tiers.
type LogLevel int

const (
	LogInfo LogLevel = iota
	LogWarn
	LogError
	LogFatal
	LogDebug1
	LogDebug2
	LogDebug3
	LogDebug4
	LogDebug5
)

// LogMode names how the log file is opened.
type LogMode int

const (
	LogAppend LogMode = iota
	LogCreate
)

// Hugepage names the huge-pages preference for the shared configuration
// snapshot allocation.
type Hugepage int

const (
	HugepageOff Hugepage = iota
	HugepageTry
	HugepageOn
)

// ProcessTitlePolicy names how aggressively the process title is kept
// updated to reflect connection state.
type ProcessTitlePolicy int

const (
	TitleVerbose ProcessTitlePolicy = iota
	TitleNever
	TitleStrict
	TitleMinimal
)

// Server is one upstream PostgreSQL server this engine proxies to.
type Server struct {
	Name     string
	Host     string
	Port     int
	Username string
	TLS      bool
}

// Common holds the fields shared between the live configuration and a
// reload candidate snapshot — everything transfer_configuration
// classifies as hot, log-restart, or process-restart-required.
type Common struct {
	LogType         LogType
	LogLevel        LogLevel
	LogMode         LogMode
	LogPath         string
	LogLinePrefix   string
	LogRotationSize int
	LogRotationAge  int
	Servers         []Server
	Users           []secret.User
	NumberOfServers int
	NumberOfUsers   int
}

// Main is the full configuration: Common plus the process-restart-only
// fields that have no per-reload counterpart semantics beyond restart
// detection.
type Main struct {
	Common

	Host                  string
	UnixSocketDir         string
	Pidfile               string
	Libev                 string
	Backlog               int
	Hugepage              Hugepage
	UpdateProcessTitle    ProcessTitlePolicy
	AuthenticationTimeout int

	// TLSCertFile/TLSKeyFile, when both set, make the server accept TLS
	// from its own clients in response to an SSLRequest; TLSCAFile, when
	// set, is used to verify an upstream server's certificate when
	// dialing a [server] section with tls = true.
	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string

	ConfigurationPath string
	UsersPath         string
}

// reservedServerNames may not be used as a server's section name; both
// collide with vocabulary the configuration format reserves for itself.
var reservedServerNames = map[string]bool{
	"pgvictoria": true,
	"all":        true,
}

// NumberOfServers bounds how many [<server>] sections a configuration
// file may define.
const NumberOfServers = 64

// NewMain returns a Main configuration with the same defaults
// pgvictoria_init_main_configuration establishes.
func NewMain() *Main {
	return &Main{
		Backlog:               16,
		Hugepage:              HugepageTry,
		UpdateProcessTitle:    TitleVerbose,
		AuthenticationTimeout: 5,
		Common: Common{
			LogType:  LogConsole,
			LogLevel: LogInfo,
			LogMode:  LogAppend,
		},
	}
}

// Load reads the main configuration file at path into a fresh Main,
// then reads the users file via provider, then validates both.
func Load(path, usersPath string, provider secret.MasterKeyProvider) (*Main, error) {
	m := NewMain()
	m.ConfigurationPath = path
	m.UsersPath = usersPath

	if err := m.readMain(path); err != nil {
		return nil, err
	}

	users, err := secret.LoadUsers(usersPath, provider)
	if err != nil {
		return nil, err
	}
	m.Users = users
	m.NumberOfUsers = len(users)

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Main) readMain(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return pgerr.ConfigError(pgerr.ConfigFileError, "open %s: %v", path, err)
	}
	defer f.Close()

	section := ""
	var current *Server

	flushServer := func() {
		if current != nil && current.Name != "" {
			m.Servers = append(m.Servers, *current)
		}
		current = nil
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := trimCommentAndWhitespace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") {
			end := strings.Index(line, "]")
			if end < 0 {
				continue
			}
			section = line[1:end]
			if section != "pgvictoria" {
				flushServer()
				current = &Server{Name: section}
			}
			continue
		}

		var key, value string
		var ok bool
		switch {
		case strings.HasPrefix(line, "unix_socket_dir"), strings.HasPrefix(line, "log_path"), strings.HasPrefix(line, "pidfile"):
			key, value, ok = extractSyskeyValue(line)
		default:
			key, value, ok = extractKeyValue(line)
		}
		if !ok {
			continue
		}

		m.applyKey(section, current, key, value)
	}
	flushServer()
	m.NumberOfServers = len(m.Servers)

	if err := scanner.Err(); err != nil {
		return pgerr.ConfigError(pgerr.ConfigFileError, "read %s: %v", path, err)
	}
	return nil
}

func (m *Main) applyKey(section string, srv *Server, key, value string) {
	switch key {
	case "host":
		if section == "pgvictoria" {
			m.Host = value
		} else if srv != nil {
			srv.Host = value
		}
	case "port":
		if srv != nil {
			if p, err := strconv.Atoi(value); err == nil {
				srv.Port = p
			}
		}
	case "user":
		if srv != nil {
			srv.Username = value
		}
	case "tls":
		if srv != nil {
			srv.TLS = asBool(value)
		}
	case "tls_cert_file":
		if section == "pgvictoria" {
			m.TLSCertFile = value
		}
	case "tls_key_file":
		if section == "pgvictoria" {
			m.TLSKeyFile = value
		}
	case "tls_ca_file":
		if section == "pgvictoria" {
			m.TLSCAFile = value
		}
	case "pidfile":
		if section == "pgvictoria" {
			m.Pidfile = value
		}
	case "update_process_title":
		if section == "pgvictoria" {
			m.UpdateProcessTitle = asUpdateProcessTitle(value, TitleVerbose)
		}
	case "log_type":
		if section == "pgvictoria" {
			m.LogType = asLogType(value)
		}
	case "log_level":
		if section == "pgvictoria" {
			m.LogLevel = asLogLevel(value)
		}
	case "log_path":
		if section == "pgvictoria" {
			m.LogPath = value
		}
	case "log_rotation_size":
		if section == "pgvictoria" {
			m.LogRotationSize, _ = asBytes(value, -1)
		}
	case "log_rotation_age":
		if section == "pgvictoria" {
			m.LogRotationAge, _ = asSeconds(value, -1)
		}
	case "log_line_prefix":
		if section == "pgvictoria" {
			m.LogLinePrefix = value
		}
	case "log_mode":
		if section == "pgvictoria" {
			m.LogMode = asLogMode(value)
		}
	case "unix_socket_dir":
		if section == "pgvictoria" {
			m.UnixSocketDir = value
		}
	case "libev":
		if section == "pgvictoria" {
			m.Libev = value
		}
	case "hugepage":
		if section == "pgvictoria" {
			m.Hugepage = asHugepage(value)
		}
	case "backlog":
		if section == "pgvictoria" {
			if b, err := strconv.Atoi(value); err == nil {
				m.Backlog = b
			}
		}
	}
}

// Validate checks the structural rules pgvictoria_validate_main_configuration
// and pgvictoria_validate_users_configuration enforce.
func (m *Main) Validate() error {
	if m.Host == "" {
		return pgerr.ConfigError(pgerr.ConfigValidationFailed, "no host defined")
	}
	if m.UnixSocketDir == "" {
		return pgerr.ConfigError(pgerr.ConfigValidationFailed, "no unix_socket_dir defined")
	}
	info, err := os.Stat(m.UnixSocketDir)
	if err != nil || !info.IsDir() {
		return pgerr.ConfigError(pgerr.ConfigValidationFailed, "unix_socket_dir is not a directory (%s)", m.UnixSocketDir)
	}
	if m.Backlog < 16 {
		m.Backlog = 16
	}
	if len(m.Servers) == 0 {
		return pgerr.ConfigError(pgerr.ConfigValidationFailed, "no servers defined")
	}
	if len(m.Servers) > NumberOfServers {
		return pgerr.ConfigError(pgerr.ConfigValidationFailed, "configuration has %d servers, exceeding the limit of %d", len(m.Servers), NumberOfServers)
	}

	for _, s := range m.Servers {
		if reservedServerNames[s.Name] {
			return pgerr.ConfigError(pgerr.ConfigValidationFailed, "%s is a reserved word for a host", s.Name)
		}
		if s.Host == "" {
			return pgerr.ConfigError(pgerr.ConfigValidationFailed, "no host defined for %s", s.Name)
		}
		if s.Port == 0 {
			return pgerr.ConfigError(pgerr.ConfigValidationFailed, "no port defined for %s", s.Name)
		}
		if s.Username == "" {
			return pgerr.ConfigError(pgerr.ConfigValidationFailed, "no user defined for %s", s.Name)
		}
	}

	if (m.TLSCertFile == "") != (m.TLSKeyFile == "") {
		return pgerr.ConfigError(pgerr.ConfigValidationFailed, "tls_cert_file and tls_key_file must be set together")
	}
	if m.TLSCertFile != "" {
		if _, err := os.Stat(m.TLSCertFile); err != nil {
			return pgerr.ConfigError(pgerr.ConfigValidationFailed, "tls_cert_file is not readable (%s)", m.TLSCertFile)
		}
		if _, err := os.Stat(m.TLSKeyFile); err != nil {
			return pgerr.ConfigError(pgerr.ConfigValidationFailed, "tls_key_file is not readable (%s)", m.TLSKeyFile)
		}
	}
	if m.TLSCAFile != "" {
		if _, err := os.Stat(m.TLSCAFile); err != nil {
			return pgerr.ConfigError(pgerr.ConfigValidationFailed, "tls_ca_file is not readable (%s)", m.TLSCAFile)
		}
	}

	if len(m.Users) == 0 {
		return pgerr.ConfigError(pgerr.ConfigValidationFailed, "no users defined")
	}
	for _, s := range m.Servers {
		found := false
		for _, u := range m.Users {
			if u.Username == s.Username {
				found = true
				break
			}
		}
		if !found {
			return pgerr.ConfigError(pgerr.ConfigValidationFailed, "unknown user (%q) defined for %s", s.Username, s.Name)
		}
	}

	return nil
}

func trimCommentAndWhitespace(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == ';' || s[i] == '#' {
			s = s[:i]
			break
		}
	}
	return strings.TrimSpace(s)
}

func extractKeyValue(line string) (key, value string, ok bool) {
	eq := strings.Index(line, "=")
	if eq < 0 {
		return "", "", false
	}
	key = strings.Trim(strings.TrimSpace(line[:eq]), `"'`)
	rest := line[eq+1:]
	if hash := strings.IndexByte(rest, '#'); hash >= 0 {
		rest = rest[:hash]
	}
	value = strings.Trim(strings.TrimSpace(rest), `"'`)
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

// extractSyskeyValue is like extractKeyValue but additionally expands
// $VAR-style environment references in a double-quoted or unquoted
// value, for the system-key subset of keys (unix_socket_dir, log_path,
// pidfile) whose values are filesystem paths. A single-quoted value is
// kept literally.
func extractSyskeyValue(line string) (key, value string, ok bool) {
	key, value, ok = extractKeyValue(line)
	if !ok {
		return
	}
	if raw := strings.TrimSpace(line[strings.Index(line, "=")+1:]); strings.HasPrefix(raw, "'") {
		return key, value, true
	}
	value = os.ExpandEnv(value)
	return key, value, true
}

func asBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "on", "1", "yes":
		return true
	default:
		return false
	}
}

func asLogType(s string) LogType {
	switch strings.ToLower(s) {
	case "file":
		return LogFile
	case "syslog":
		return LogSyslog
	default:
		return LogConsole
	}
}

func asLogMode(s string) LogMode {
	switch strings.ToLower(s) {
	case "c", "create":
		return LogCreate
	default:
		return LogAppend
	}
}

func asHugepage(s string) Hugepage {
	switch strings.ToLower(s) {
	case "try":
		return HugepageTry
	case "on":
		return HugepageOn
	default:
		return HugepageOff
	}
}

func asUpdateProcessTitle(s string, def ProcessTitlePolicy) ProcessTitlePolicy {
	switch strings.ToLower(s) {
	case "":
		return def
	case "never", "off":
		return TitleNever
	case "strict":
		return TitleStrict
	case "minimal":
		return TitleMinimal
	case "verbose", "full":
		return TitleVerbose
	default:
		return def
	}
}

func asLogLevel(s string) LogLevel {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "debug") {
		suffix := strings.TrimPrefix(lower, "debug")
		n := 1
		if suffix != "" {
			if v, err := strconv.Atoi(suffix); err == nil {
				n = v
			}
		}
		switch {
		case n <= 1:
			return LogDebug1
		case n == 2:
			return LogDebug2
		case n == 3:
			return LogDebug3
		case n == 4:
			return LogDebug4
		default:
			return LogDebug5
		}
	}
	switch lower {
	case "warn":
		return LogWarn
	case "error":
		return LogError
	case "fatal":
		return LogFatal
	default:
		return LogInfo
	}
}

// asSeconds parses an age string with a single-letter suffix
// (s/m/h/d/w, case-insensitive) into seconds, following the legacy
// grammar byte-for-byte: digits first, then at most one suffix letter.
func asSeconds(s string, def int) (int, error) {
	return parseSuffixed(s, def, map[byte]int{
		's': 1, 'm': 60, 'h': 3600, 'd': 24 * 3600, 'w': 7 * 24 * 3600,
	})
}

// asBytes parses a size string with a suffix of b/k/m/g (optionally
// followed by a trailing 'b', e.g. "kb"/"mb"/"gb") into bytes.
func asBytes(s string, def int) (int, error) {
	return parseSuffixed(s, def, map[byte]int{
		'b': 1, 'k': 1024, 'm': 1024 * 1024, 'g': 1024 * 1024 * 1024,
	})
}

func parseSuffixed(s string, def int, multipliers map[byte]int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}

	var digits strings.Builder
	multiplier := 1
	multiplierSet := false
	trailingB := false
	_, sizeGrammar := multipliers['b']

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			if multiplierSet {
				return def, fmt.Errorf("invalid suffix in %q", s)
			}
			digits.WriteByte(c)
		case (c|0x20) >= 'a' && (c|0x20) <= 'z':
			lower := c | 0x20
			if multiplierSet {
				// allow a trailing 'b' suffix on a multiplier (e.g. "mb"),
				// but not a second multiplier letter or "bb"
				if sizeGrammar && multiplier != 1 && lower == 'b' && !trailingB {
					trailingB = true
					continue
				}
				return def, fmt.Errorf("invalid suffix in %q", s)
			}
			m, ok := multipliers[lower]
			if !ok {
				return def, fmt.Errorf("invalid suffix in %q", s)
			}
			multiplier = m
			multiplierSet = true
		default:
			return def, fmt.Errorf("invalid character in %q", s)
		}
	}

	n, err := strconv.Atoi(digits.String())
	if err != nil || n < 0 {
		return def, fmt.Errorf("invalid number in %q", s)
	}
	return n * multiplier, nil
}
