package codeserver

import (
	"fmt"
	"hash/fnv"
	"net/url"
)

const (
	portBase  = 10000
	portRange = 50000
)

// PortForHost maps a host address onto [10000, 60000). The mapping is
// stable across processes, so one host always gets the same port pair.
func PortForHost(address string) int {
	h := fnv.New32a()
	h.Write([]byte(address))
	return portBase + int(h.Sum32()%portRange)
}

// EditorURL is the browser URL for the editor behind a local port, opened
// on folder.
func EditorURL(localPort int, folder string) string {
	u := fmt.Sprintf("http://127.0.0.1:%d/", localPort)
	if folder != "" {
		u += "?folder=" + url.QueryEscape(folder)
	}
	return u
}
