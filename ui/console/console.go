// Package console wraps the standard streams of the CLI: synchronized
// writes, TTY detection and optional colors.
package console

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Console enables synced writing to stdout and stderr.
type Console struct {
	IsTTY          bool
	Stdout, Stderr OSFileW
	Stdin          io.Reader

	outMx          *sync.Mutex
	stdout, stderr *consoleWriter
	theme          *theme
	logger         *logrus.Logger
}

// New returns a Console writing to stdout and stderr. Colors are only used
// when colorize is set and both streams are terminals.
func New(stdout, stderr OSFileW, stdin io.Reader, colorize bool, termType string) *Console {
	outMx := &sync.Mutex{}
	outCW := newConsoleWriter(stdout, outMx, termType)
	errCW := newConsoleWriter(stderr, outMx, termType)
	isTTY := outCW.isTTY && errCW.isTTY

	c := &Console{
		IsTTY:  isTTY,
		Stdout: stdout,
		Stderr: stderr,
		Stdin:  stdin,
		outMx:  outMx,
		stdout: outCW,
		stderr: errCW,
	}

	formatter := &logrus.TextFormatter{}
	if isTTY && colorize {
		c.theme = &theme{
			foreground: newColor(color.FgCyan),
			good:       newColor(color.FgGreen),
			bad:        newColor(color.FgYellow),
		}
		formatter.ForceColors = true
	} else {
		formatter.DisableColors = true
	}

	c.logger = &logrus.Logger{
		Out:       errCW,
		Formatter: formatter,
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}
	return c
}

// ApplyTheme adds ANSI color escape sequences to s if themes are enabled;
// otherwise it returns s unchanged.
func (c *Console) ApplyTheme(s string) string {
	if c.colorized() {
		return c.theme.foreground.Sprint(s)
	}
	return s
}

// Status colors s as good or bad if themes are enabled.
func (c *Console) Status(s string, good bool) string {
	if !c.colorized() {
		return s
	}
	if good {
		return c.theme.good.Sprint(s)
	}
	return c.theme.bad.Sprint(s)
}

// GetLogger returns the preconfigured logger, writing to stderr.
func (c *Console) GetLogger() *logrus.Logger {
	return c.logger
}

// SetLogger overrides the preconfigured logger.
func (c *Console) SetLogger(l *logrus.Logger) {
	c.logger = l
}

// Colorized reports whether output is colored.
func (c *Console) Colorized() bool {
	return c.colorized()
}

// StdoutWriter returns the synchronized stdout writer.
func (c *Console) StdoutWriter() io.Writer {
	return c.stdout
}

// StderrWriter returns the synchronized stderr writer.
func (c *Console) StderrWriter() io.Writer {
	return c.stderr
}

// Print writes s to stdout.
func (c *Console) Print(s string) {
	if _, err := fmt.Fprint(c.stdout, s); err != nil {
		c.logger.WithError(err).Error("could not print to stdout")
	}
}

// Printf writes s to stdout, formatted with optional arguments.
func (c *Console) Printf(s string, a ...interface{}) {
	if _, err := fmt.Fprintf(c.stdout, s, a...); err != nil {
		c.logger.WithError(err).Error("could not print to stdout")
	}
}

// PrintYAML marshals v to YAML, and writes the result to stdout.
func (c *Console) PrintYAML(v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("could not marshal YAML: %w", err)
	}
	c.Print(string(data))
	return nil
}

// TermWidth returns the terminal window width in characters. If the window size
// lookup fails, or if we're not running in a TTY, the default value of 80 is
// returned.
func (c *Console) TermWidth() (int, error) {
	if !c.IsTTY {
		return defaultTermWidth, nil
	}

	width, _, err := term.GetSize(int(c.Stdout.Fd()))
	if !(width > 0) || err != nil {
		return defaultTermWidth, err
	}
	return width, nil
}

func (c *Console) colorized() bool {
	return c.theme != nil
}

// OSFileW is the subset of os.File the console writes to.
type OSFileW interface {
	io.Writer
	Fd() uintptr
}

type theme struct {
	foreground *color.Color
	good, bad  *color.Color
}

// consoleWriter syncs writes with a mutex shared between stdout and stderr.
type consoleWriter struct {
	out   io.Writer
	isTTY bool
	mutex *sync.Mutex
}

func newConsoleWriter(out OSFileW, mx *sync.Mutex, termType string) *consoleWriter {
	isTTY := termType != "dumb" && (isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()))
	var w io.Writer = out
	if f, ok := out.(*os.File); ok && isTTY {
		// translates escape sequences on Windows consoles
		w = colorable.NewColorable(f)
	}
	return &consoleWriter{out: w, isTTY: isTTY, mutex: mx}
}

func (w *consoleWriter) Write(p []byte) (n int, err error) {
	origLen := len(p)
	if w.isTTY {
		// erase till the end of line with each new line
		p = bytes.ReplaceAll(p, []byte{'\n'}, []byte{'\x1b', '[', '0', 'K', '\n'})
	}

	w.mutex.Lock()
	n, err = w.out.Write(p)
	w.mutex.Unlock()

	if err != nil && n < origLen {
		return n, err
	}
	return origLen, err
}

func newColor(attributes ...color.Attribute) *color.Color {
	c := color.New(attributes...)
	c.EnableColor()
	return c
}
