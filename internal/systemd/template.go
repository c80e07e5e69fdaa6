// Package systemd generates and checks the unit file that runs the gateway
// as a hardened long-lived service.
package systemd

// ServiceTemplate returns the systemd unit for buildgate.service. The
// service user needs write access to the audit log, the history database,
// and the configured execution roots; everything else stays read-only.
func ServiceTemplate() string {
	return `[Unit]
Description=buildgate MCP command execution gateway
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User=buildgate
ExecStart=/usr/local/bin/buildgate serve --config /etc/buildgate/config.yaml
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=full
ProtectHome=read-only
ProtectKernelTunables=true
RestrictNamespaces=true
ReadWritePaths=/var/lib/buildgate /var/log/buildgate /srv/builds

[Install]
WantedBy=multi-user.target
`
}
