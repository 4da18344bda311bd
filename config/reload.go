package config

import (
	"fmt"

	"github.com/pgvictoria/pgvictoria/secret"
)

// Reload loads a fresh configuration from the same files the live one
// was loaded from, then transfers it onto live in place, returning
// whether a process restart is required and a description of every
// field that changed (old and new value), for the caller to log.
func Reload(live *Main, provider secret.MasterKeyProvider) (restart bool, changes []string, err error) {
	fresh, loadErr := Load(live.ConfigurationPath, live.UsersPath, provider)
	if loadErr != nil {
		return true, nil, loadErr
	}
	restart, changes = Transfer(live, fresh)
	return restart, changes, nil
}

// Transfer copies fresh onto live field by field, classifying each
// field as hot (copied, no restart needed), log-restart (logger fields, caller
// is expected to stop/restart the logger around this call), or
// process-restart-required (sets the returned bool), mirroring
// transfer_configuration's three-tier classification exactly. Every
// field that actually changed is recorded in changes, following the
// original's restart_int/restart_string pattern of logging old and new
// values regardless of which tier the field belongs to.
func Transfer(live, fresh *Main) (restart bool, changes []string) {
	restartString(&changes, &restart, "host", live.Host, fresh.Host, true)
	live.Host = fresh.Host

	restartInt(&changes, &restart, "log_type", int(live.LogType), int(fresh.LogType), true)
	live.LogType = fresh.LogType

	restartInt(&changes, &restart, "log_level", int(live.LogLevel), int(fresh.LogLevel), false)
	live.LogLevel = fresh.LogLevel

	logRestartFields := live.LogPath != fresh.LogPath ||
		live.LogRotationSize != fresh.LogRotationSize ||
		live.LogRotationAge != fresh.LogRotationAge ||
		live.LogMode != fresh.LogMode ||
		live.LogLinePrefix != fresh.LogLinePrefix
	if logRestartFields {
		note(&changes, "log_path", live.LogPath, fresh.LogPath)
		note(&changes, "log_rotation_size", live.LogRotationSize, fresh.LogRotationSize)
		note(&changes, "log_rotation_age", live.LogRotationAge, fresh.LogRotationAge)
		note(&changes, "log_mode", int(live.LogMode), int(fresh.LogMode))
		note(&changes, "log_line_prefix", live.LogLinePrefix, fresh.LogLinePrefix)
		live.LogRotationSize = fresh.LogRotationSize
		live.LogRotationAge = fresh.LogRotationAge
		live.LogMode = fresh.LogMode
		live.LogLinePrefix = fresh.LogLinePrefix
		live.LogPath = fresh.LogPath
	}

	restartInt(&changes, &restart, "authentication_timeout", live.AuthenticationTimeout, fresh.AuthenticationTimeout, false)
	live.AuthenticationTimeout = fresh.AuthenticationTimeout

	if fresh.Pidfile != "" && live.Pidfile != fresh.Pidfile {
		note(&changes, "pidfile", live.Pidfile, fresh.Pidfile)
		restart = true
		live.Pidfile = fresh.Pidfile
	}

	restartString(&changes, &restart, "libev", live.Libev, fresh.Libev, true)
	live.Libev = fresh.Libev

	restartInt(&changes, &restart, "backlog", live.Backlog, fresh.Backlog, false)
	live.Backlog = fresh.Backlog

	restartInt(&changes, &restart, "hugepage", int(live.Hugepage), int(fresh.Hugepage), true)
	live.Hugepage = fresh.Hugepage

	restartInt(&changes, &restart, "update_process_title", int(live.UpdateProcessTitle), int(fresh.UpdateProcessTitle), true)
	live.UpdateProcessTitle = fresh.UpdateProcessTitle

	restartString(&changes, &restart, "unix_socket_dir", live.UnixSocketDir, fresh.UnixSocketDir, true)
	live.UnixSocketDir = fresh.UnixSocketDir

	restartString(&changes, &restart, "tls_cert_file", live.TLSCertFile, fresh.TLSCertFile, true)
	live.TLSCertFile = fresh.TLSCertFile

	restartString(&changes, &restart, "tls_key_file", live.TLSKeyFile, fresh.TLSKeyFile, true)
	live.TLSKeyFile = fresh.TLSKeyFile

	restartString(&changes, &restart, "tls_ca_file", live.TLSCAFile, fresh.TLSCAFile, true)
	live.TLSCAFile = fresh.TLSCAFile

	if serversChanged(live.Servers, fresh.Servers) {
		note(&changes, "servers", len(live.Servers), len(fresh.Servers))
		restart = true
	}
	live.Servers = fresh.Servers

	restartInt(&changes, &restart, "number_of_servers", live.NumberOfServers, fresh.NumberOfServers, true)
	live.NumberOfServers = fresh.NumberOfServers

	// hot fields: users can change without a restart
	if live.NumberOfUsers != fresh.NumberOfUsers {
		note(&changes, "number_of_users", live.NumberOfUsers, fresh.NumberOfUsers)
	}
	live.Users = fresh.Users
	live.NumberOfUsers = fresh.NumberOfUsers

	return restart, changes
}

func serversChanged(a, b []Server) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}

// restartString records a changed string field, setting *restart when
// requiresRestart is true and the value differs.
func restartString(changes *[]string, restart *bool, name, old, new string, requiresRestart bool) {
	if old == new {
		return
	}
	note(changes, name, old, new)
	if requiresRestart {
		*restart = true
	}
}

// restartInt is restartString's counterpart for integer-valued fields,
// including the enum types (LogType, LogLevel, Hugepage, ...) that are
// all backed by int.
func restartInt(changes *[]string, restart *bool, name string, old, new int, requiresRestart bool) {
	if old == new {
		return
	}
	note(changes, name, old, new)
	if requiresRestart {
		*restart = true
	}
}

func note(changes *[]string, name string, old, new interface{}) {
	*changes = append(*changes, fmt.Sprintf("%s: %v -> %v", name, old, new))
}
