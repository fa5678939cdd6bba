package athandler

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ErrClosed is returned by Port operations after Close.
var ErrClosed = errors.New("athandler: port closed")

// Port reads a Linux serial device in raw mode and feeds every received
// byte to a Handler. It is safe for concurrent use by multiple goroutines.
type Port struct {
	fd        int
	file      *os.File
	done      chan struct{}
	closeOnce sync.Once
	config    Config
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd
	handler   *Handler
	log       logrus.FieldLogger
}

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device     string
	BaudRate   int
	BufferSize int                // handler capacity, 0 means DefaultBufferSize
	Logger     logrus.FieldLogger // nil means logrus.StandardLogger()
}

// Open opens a serial port using the provided Config and returns a Port.
// The port is configured for raw, low-latency, non-buffered operation.
func Open(cfg Config) (*Port, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	h, err := New(cfg.BufferSize, WithLogger(log))
	if err != nil {
		return nil, err
	}

	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}

	if err := makeRaw(fd, cfg.BaudRate); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	// Turn back into blocking mode now that config is done
	if err := syscall.SetNonblock(fd, false); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set blocking: %w", err)
	}

	// Create self-pipe for killability
	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	log.WithFields(logrus.Fields{
		"device": cfg.Device,
		"baud":   cfg.BaudRate,
		"size":   h.Cap(),
	}).Info("serial port opened")

	return &Port{
		fd:      fd,
		file:    os.NewFile(uintptr(fd), cfg.Device),
		done:    make(chan struct{}),
		config:  cfg,
		pipeR:   pipeFds[0],
		pipeW:   pipeFds[1],
		handler: h,
		log:     log.WithField("device", cfg.Device),
	}, nil
}

func makeRaw(fd int, baudRate int) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baudToUnix(baudRate)

	// VMIN=1, VTIME=0: return as soon as one byte is available
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

// Handler returns the handler fed by this port.
func (p *Port) Handler() *Handler { return p.handler }

// WriteLine writes a line (with specified newline) to the serial port.
func (p *Port) WriteLine(line string, newline string) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	_, err := p.file.WriteString(line + newline)
	return err
}

// SendCommand writes an AT command terminated by a carriage return.
func (p *Port) SendCommand(cmd string) error {
	p.log.WithField("command", cmd).Debug("sending command")
	return p.WriteLine(cmd, "\r")
}

// FeedLoop reads from the serial port and feeds each received byte to the
// handler until Close is called. Read errors are passed to onError and end
// the loop.
func (p *Port) FeedLoop(onError func(error)) {
	p.feedLoop(func() {}, onError)
}

// ReadRecordsLoop is FeedLoop that also hands every completed record to
// onRecord, oldest first, and consumes it.
func (p *Port) ReadRecordsLoop(onRecord func(string), onError func(error)) {
	p.feedLoop(func() {
		for {
			p.handler.mu.Lock()
			if p.handler.pending == 0 {
				p.handler.mu.Unlock()
				return
			}
			record := p.handler.current()
			p.handler.moveNext()
			p.handler.mu.Unlock()
			onRecord(string(record))
		}
	}, onError)
}

func (p *Port) feedLoop(afterRead func(), onError func(error)) {
	buf := make([]byte, 4096)
	for {
		// Use poll to wait for data or kill signal
		pfd := []unix.PollFd{
			{Fd: int32(p.fd), Events: unix.POLLIN},
			{Fd: int32(p.pipeR), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(pfd, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			onError(fmt.Errorf("poll: %w", err))
			return
		}
		select {
		case <-p.done:
			return
		default:
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			// Drain pipe
			var b [1]byte
			unix.Read(p.pipeR, b[:])
			return
		}
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			n, err := p.file.Read(buf)
			if n > 0 {
				p.handler.feedAll(buf[:n])
				afterRead()
			}
			if err != nil {
				p.log.WithError(err).Warn("serial read failed")
				onError(fmt.Errorf("read: %w", err))
				return
			}
		}
	}
}

// Close closes the serial port and unblocks any running feed loop.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		// Wake up poll using self-pipe
		if p.pipeW > 0 {
			unix.Write(p.pipeW, []byte{1})
		}
		if p.file != nil {
			// Closes p.fd as well.
			err = p.file.Close()
		}
		if p.pipeR > 0 {
			unix.Close(p.pipeR)
		}
		if p.pipeW > 0 {
			unix.Close(p.pipeW)
		}
		p.log.Info("serial port closed")
	})
	return err
}

func baudToUnix(baud int) uint32 {
	switch baud {
	case 9600:
		return unix.B9600
	case 19200:
		return unix.B19200
	case 38400:
		return unix.B38400
	case 57600:
		return unix.B57600
	case 115200:
		return unix.B115200
	case 230400:
		return unix.B230400
	default:
		return unix.B115200 // fallback
	}
}
