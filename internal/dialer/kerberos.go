package dialer

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/spnego"

	"subnetproxy/internal/metrics"
)

// KerberosError wraps a failure anywhere in the negotiate sequence:
// loading the ticket cache, building the SPNEGO token, or the throwaway
// negotiate probe itself.
type KerberosError struct {
	Stage string
	Err   error
}

func (e *KerberosError) Error() string {
	return fmt.Sprintf("kerberos %s: %v", e.Stage, e.Err)
}

func (e *KerberosError) Unwrap() error { return e.Err }

// NegotiateKerberos builds a one-shot SPNEGO token for service
// "HTTP/<proxy-host-without-port>" from the caller's ticket cache, then
// proves it works with a throwaway GET to http://google.com carrying a
// Proxy-Authorization: Negotiate header. It does not persist any
// security context, and the CONNECT retry that follows is sent without a
// Proxy-Authorization header, mirroring the original's one-shot
// negotiate_with_krb5.
func NegotiateKerberos(ctx context.Context, proxyAddr string) error {
	err := negotiateKerberos(ctx, proxyAddr)
	if err != nil {
		metrics.KerberosNegotiationsTotal.WithLabelValues("failure").Inc()
	} else {
		metrics.KerberosNegotiationsTotal.WithLabelValues("success").Inc()
	}
	return err
}

func negotiateKerberos(ctx context.Context, proxyAddr string) error {
	proxyHost, _, ok := strings.Cut(proxyAddr, ":")
	if !ok {
		proxyHost = proxyAddr
	}
	spn := "HTTP/" + proxyHost

	token, err := buildSPNEGOToken(spn)
	if err != nil {
		return &KerberosError{Stage: "token", Err: err}
	}

	conn, err := dialWithRetry(ctx, proxyAddr)
	if err != nil {
		return &KerberosError{Stage: "dial", Err: err}
	}
	defer conn.Close()

	req := fmt.Sprintf(
		"GET http://google.com HTTP/1.1\r\nHost: google.com\r\nProxy-Authorization: Negotiate %s\r\n\r\n",
		token,
	)
	if _, err := conn.Write([]byte(req)); err != nil {
		return &KerberosError{Stage: "probe-write", Err: err}
	}

	buf := make([]byte, readBudget)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return &KerberosError{Stage: "probe-read", Err: err}
	}

	status := firstLine(buf[:n])
	switch {
	case strings.HasPrefix(status, "HTTP/1.1 4"), strings.HasPrefix(status, "HTTP/1.1 5"):
		return &KerberosError{Stage: "probe", Err: fmt.Errorf("proxy rejected negotiate: %s", status)}
	case strings.HasPrefix(status, "HTTP/1.1"):
		return nil
	default:
		return &KerberosError{Stage: "probe", Err: fmt.Errorf("unexpected negotiate response: %s", status)}
	}
}

// buildSPNEGOToken loads the default krb5 config and the caller's
// ticket cache (the standard ccache path, honoring $KRB5CCNAME), then
// produces a base64 SPNEGO initial token for spn.
func buildSPNEGOToken(spn string) (string, error) {
	cfg, err := loadKrb5Config()
	if err != nil {
		return "", fmt.Errorf("load krb5.conf: %w", err)
	}

	ccachePath := os.Getenv("KRB5CCNAME")
	if ccachePath == "" {
		ccachePath = fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
	}
	ccachePath = strings.TrimPrefix(ccachePath, "FILE:")

	ccache, err := credentials.LoadCCache(ccachePath)
	if err != nil {
		return "", fmt.Errorf("load ccache %s: %w", ccachePath, err)
	}

	cl, err := client.NewFromCCache(ccache, cfg, client.DisablePAFXFAST(true))
	if err != nil {
		return "", fmt.Errorf("build client from ccache: %w", err)
	}

	spnegoClient := spnego.SPNEGOClient(cl, spn)
	if err := spnegoClient.AcquireCred(); err != nil {
		return "", fmt.Errorf("acquire credential: %w", err)
	}
	negToken, err := spnegoClient.InitSecContext()
	if err != nil {
		return "", fmt.Errorf("init security context: %w", err)
	}

	raw, err := negToken.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal negotiate token: %w", err)
	}

	return base64.StdEncoding.EncodeToString(raw), nil
}

func loadKrb5Config() (*config.Config, error) {
	path := os.Getenv("KRB5_CONFIG")
	if path == "" {
		path = "/etc/krb5.conf"
	}
	return config.Load(path)
}
