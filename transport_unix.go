package mqttclient

import (
	"context"
	"errors"
	"net"
	"net/url"
)

// dialUnix connects to a Unix domain socket. Both unix:///path/to/sock and
// unix://localhost/path/to/sock are accepted; the proxy does not apply.
func dialUnix(ctx context.Context, u *url.URL) (net.Conn, error) {
	path := u.Path
	if u.Host != "" && u.Host != "localhost" {
		path = u.Host + u.Path
	}
	if path == "" {
		return nil, errors.New("unix socket path is empty")
	}

	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}
