// Command rfbhostd is a minimal embedding example: it drives a
// framebuffer with a slowly animated test pattern and serves it over
// RFB to any connecting viewer.
package main

import (
	"flag"
	"math"
	"time"

	"github.com/golang/glog"

	"github.com/vncbridge/rfbserver/rfb"
	"github.com/vncbridge/rfbserver/server"
)

func main() {
	port := flag.Int("port", 5900, "TCP port to listen on")
	width := flag.Int("width", 1024, "framebuffer width")
	height := flag.Int("height", 768, "framebuffer height")
	name := flag.String("name", "rfbhostd", "desktop name advertised to clients")
	password := flag.String("password", "", "VNC password; empty disables authentication")
	flag.Parse()
	defer glog.Flush()

	srv, events, err := server.New(*width, *height, *name, *password)
	if err != nil {
		glog.Fatalf("rfbhostd: %v", err)
	}
	if err := srv.Listen(*port); err != nil {
		glog.Fatalf("rfbhostd: listen: %v", err)
	}
	glog.Infof("rfbhostd: listening on :%d", *port)

	go logEvents(events)
	animate(srv)
}

func logEvents(events <-chan rfb.ServerEvent) {
	for ev := range events {
		glog.V(1).Infof("rfbhostd: %s client=%d", ev.Kind, ev.ID)
	}
}

func animate(srv *server.Server) {
	fb := srv.Framebuffer()
	width, height, _ := fb.Dimensions()
	buf := make([]byte, width*height*4)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var t float64
	for range ticker.C {
		t += 0.1
		fillWave(buf, width, height, t)
		if _, _, err := fb.UpdateFromSlice(buf); err != nil {
			glog.Errorf("rfbhostd: update: %v", err)
		}
	}
}

// fillWave renders a moving diagonal gradient into buf as 32-bpp BGRX.
func fillWave(buf []byte, width, height int, t float64) {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := (math.Sin(float64(x)/40+t) + math.Cos(float64(y)/40+t)) / 2
			shade := byte((v + 1) / 2 * 255)
			off := (y*width + x) * 4
			buf[off+0] = shade       // B
			buf[off+1] = shade / 2   // G
			buf[off+2] = 255 - shade // R
			buf[off+3] = 0           // padding
		}
	}
}
