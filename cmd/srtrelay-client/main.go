// Command srtrelay-client is a small file-based client for the relay
// server: publish a local MPEG-TS file over SRT, or record a played stream
// to a local file, reusing the same SRT transport the server uses.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/srtrelay/srtrelay/internal/core/mpegts"
	"github.com/srtrelay/srtrelay/internal/transport/srt"
)

func main() {
	os.Exit(run())
}

func run() int {
	mode := flag.String("mode", "", "publish | record")
	addr := flag.String("addr", "", "host:port of the relay server")
	streamID := flag.String("streamid", "", "SRT stream identifier, e.g. /host/app/name or h=host&r=app/name&m=publish")
	file := flag.String("file", "", "TS file to publish from, or to record into")
	latency := flag.Duration("latency", 100*time.Millisecond, "SRT latency")
	flag.Parse()

	if *addr == "" || *streamID == "" || *file == "" {
		fmt.Fprintln(os.Stderr, "usage: srtrelay-client -mode publish|record -addr host:port -streamid <id> -file <path>")
		return 2
	}

	switch *mode {
	case "publish":
		return runPublish(*addr, *streamID, *file, *latency)
	case "record":
		return runRecord(*addr, *streamID, *file, *latency)
	default:
		fmt.Fprintf(os.Stderr, "unknown -mode %q\n", *mode)
		return 2
	}
}

func runPublish(addr, streamID, file string, latency time.Duration) int {
	f, err := os.Open(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", file, err)
		return 1
	}
	defer f.Close()

	conn, err := srt.Dial(context.Background(), addr, streamID, latency)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", addr, err)
		return 1
	}
	defer conn.Close()

	buf := make([]byte, 7*mpegts.PacketSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				fmt.Fprintf(os.Stderr, "write: %v\n", werr)
				return 1
			}
		}
		if err == io.EOF {
			return 0
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", file, err)
			return 1
		}
	}
}

func runRecord(addr, streamID, file string, latency time.Duration) int {
	out, err := os.Create(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", file, err)
		return 1
	}
	defer out.Close()

	conn, err := srt.Dial(context.Background(), addr, streamID, latency)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", addr, err)
		return 1
	}
	defer conn.Close()

	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				fmt.Fprintf(os.Stderr, "write %s: %v\n", file, werr)
				return 1
			}
		}
		if err != nil {
			if err == io.EOF {
				return 0
			}
			fmt.Fprintf(os.Stderr, "read: %v\n", err)
			return 1
		}
	}
}
