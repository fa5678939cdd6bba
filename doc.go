// Package athandler buffers the replies of AT-command devices (modems, GSM
// and Wi-Fi modules) arriving over a serial line and splits them into
// discrete command records.
//
// A Handler keeps a fixed-size ring buffer. Every received byte is passed to
// Feed; a record ends at "\r\n" or right after a '>' prompt, and is stored
// null-terminated. The consumer side asks whether records are waiting,
// compares the oldest one against an expected reply and discards it once
// processed.
//
// Features:
//   - Fixed memory: the buffer is allocated once and never grows
//   - Overflow never overwrites stored records; dropped bytes are counted in Stats
//   - Repeated "\r\n" never produces empty records between replies
//   - 0x00 bytes from the line are stored as 0xFF
//   - Linux serial Port that feeds a Handler, killable through a self-pipe
//   - PTY-based tests for the serial side
//
// Example usage:
//
//	port, err := athandler.Open(athandler.Config{
//	    Device:   "/dev/ttyUSB0",
//	    BaudRate: 115200,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	go port.FeedLoop(func(err error) {
//	    log.Println("read error:", err)
//	})
//
//	h := port.Handler()
//	if err := port.SendCommand("AT+CSQ"); err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
//	defer cancel()
//	for {
//	    if err := h.Wait(ctx); err != nil {
//	        log.Fatal(err)
//	    }
//	    switch {
//	    case h.Match("+CSQ:"):
//	        rec, _ := h.Current()
//	        fmt.Println("signal:", string(rec))
//	    case h.Match("OK"):
//	        return
//	    }
//	    h.MoveNext()
//	}
//
// The serial side does **not** support Windows.
package athandler
