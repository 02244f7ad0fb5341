package collect

import (
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	defaults "github.com/xtxerr/infoset/config"
	"github.com/xtxerr/infoset/internal/config"
)

// =============================================================================
// SNMP Client
// =============================================================================

// snmpWalker connects on first use and stays connected until Close.
type snmpWalker struct {
	mu        sync.Mutex
	client    *gosnmp.GoSNMP
	connected bool
}

func (w *snmpWalker) BulkWalkAll(rootOid string) ([]gosnmp.SnmpPDU, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.connected {
		if err := w.client.Connect(); err != nil {
			return nil, err
		}
		w.connected = true
	}

	if w.client.Version == gosnmp.Version1 {
		return w.client.WalkAll(rootOid)
	}
	return w.client.BulkWalkAll(rootOid)
}

func (w *snmpWalker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.connected {
		return nil
	}
	w.connected = false
	return w.client.Conn.Close()
}

// createClient builds a v2c client, or a v3 client when a security name is
// configured.
func createClient(cfg config.DeviceConfig, timeout time.Duration, retries int) *gosnmp.GoSNMP {
	port := cfg.Port
	if port == 0 {
		port = defaults.DefaultSNMPPort
	}
	if timeout <= 0 {
		timeout = defaults.DefaultSNMPTimeout
	}
	if retries < 0 {
		retries = defaults.DefaultSNMPRetries
	}

	snmp := &gosnmp.GoSNMP{
		Target:             cfg.Hostname,
		Port:               port,
		Timeout:            timeout,
		Retries:            retries,
		MaxOids:            gosnmp.MaxOids,
		MaxRepetitions:     10,
		ExponentialTimeout: true,
	}

	if cfg.SecurityName != "" {
		snmp.Version = gosnmp.Version3
		snmp.SecurityModel = gosnmp.UserSecurityModel
		snmp.MsgFlags = getMsgFlags(cfg.SecurityLevel)
		snmp.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 cfg.SecurityName,
			AuthenticationProtocol:   getAuthProtocol(cfg.AuthProtocol),
			AuthenticationPassphrase: cfg.AuthPassword,
			PrivacyProtocol:          getPrivProtocol(cfg.PrivProtocol),
			PrivacyPassphrase:        cfg.PrivPassword,
		}
		if cfg.ContextName != "" {
			snmp.ContextName = cfg.ContextName
		}
	} else {
		snmp.Version = gosnmp.Version2c
		snmp.Community = cfg.Community
	}

	return snmp
}

// =============================================================================
// SNMPv3 Protocol Helpers
// =============================================================================

func getMsgFlags(level string) gosnmp.SnmpV3MsgFlags {
	switch level {
	case "noAuthNoPriv":
		return gosnmp.NoAuthNoPriv
	case "authNoPriv":
		return gosnmp.AuthNoPriv
	case "authPriv":
		return gosnmp.AuthPriv
	default:
		return gosnmp.NoAuthNoPriv
	}
}

func getAuthProtocol(protocol string) gosnmp.SnmpV3AuthProtocol {
	switch protocol {
	case "MD5":
		return gosnmp.MD5
	case "SHA":
		return gosnmp.SHA
	case "SHA224":
		return gosnmp.SHA224
	case "SHA256":
		return gosnmp.SHA256
	case "SHA384":
		return gosnmp.SHA384
	case "SHA512":
		return gosnmp.SHA512
	default:
		return gosnmp.NoAuth
	}
}

func getPrivProtocol(protocol string) gosnmp.SnmpV3PrivProtocol {
	switch protocol {
	case "DES":
		return gosnmp.DES
	case "AES":
		return gosnmp.AES
	case "AES192":
		return gosnmp.AES192
	case "AES256":
		return gosnmp.AES256
	default:
		return gosnmp.NoPriv
	}
}
