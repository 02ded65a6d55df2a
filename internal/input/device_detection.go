package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/bnema/wl-clicker/internal/logger"
	"github.com/holoplot/go-evdev"
)

// ErrNoKeyboard is returned when no keyboard able to report the hotkey exists
var ErrNoKeyboard = errors.New("no keyboard device found")

const procDevicesPath = "/proc/bus/input/devices"

// FindKeyboardDevice returns the event node of the first keyboard that can
// report the hotkey. The kernel device list is consulted first, then the
// event nodes are probed directly.
func FindKeyboardDevice() (string, error) {
	path, err := findFromProc(procDevicesPath, Hotkey)
	if err == nil {
		return path, nil
	}
	logger.Debugf("Keyboard lookup via %s failed: %v", procDevicesPath, err)

	return findFromEvdev(Hotkey)
}

// procDevice is one block of /proc/bus/input/devices
type procDevice struct {
	Name     string
	Handlers []string
	KeyBits  []uint64 // least significant word first
}

func findFromProc(path string, code uint16) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	devices, err := parseProcDevices(f)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return selectKeyboard(devices, code)
}

func parseProcDevices(r io.Reader) ([]procDevice, error) {
	var (
		devices []procDevice
		current procDevice
		started bool
	)

	flush := func() {
		if started {
			devices = append(devices, current)
		}
		current = procDevice{}
		started = false
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		started = true

		switch {
		case strings.HasPrefix(line, "N: Name="):
			current.Name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)
		case strings.HasPrefix(line, "H: Handlers="):
			current.Handlers = strings.Fields(strings.TrimPrefix(line, "H: Handlers="))
		case strings.HasPrefix(line, "B: KEY="):
			keyBits, err := parseBitmap(strings.TrimPrefix(line, "B: KEY="))
			if err != nil {
				return nil, fmt.Errorf("device %q: %w", current.Name, err)
			}
			current.KeyBits = keyBits
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()

	return devices, nil
}

// parseBitmap decodes a kernel capability bitmap, printed as hex words
// of native long width with the most significant word first.
func parseBitmap(s string) ([]uint64, error) {
	fields := strings.Fields(s)
	words := make([]uint64, len(fields))
	for i, field := range fields {
		w, err := strconv.ParseUint(field, 16, bits.UintSize)
		if err != nil {
			return nil, fmt.Errorf("bad bitmap word %q: %w", field, err)
		}
		words[len(fields)-1-i] = w
	}
	return words, nil
}

func (d procDevice) hasHandler(name string) bool {
	for _, h := range d.Handlers {
		if h == name {
			return true
		}
	}
	return false
}

func (d procDevice) eventNode() string {
	for _, h := range d.Handlers {
		if strings.HasPrefix(h, "event") {
			return "/dev/input/" + h
		}
	}
	return ""
}

func (d procDevice) hasKey(code uint16) bool {
	word := int(code) / bits.UintSize
	if word >= len(d.KeyBits) {
		return false
	}
	return d.KeyBits[word]&(1<<(uint(code)%bits.UintSize)) != 0
}

// selectKeyboard picks the first device bound to the sysrq handler that
// has an event node and reports code.
func selectKeyboard(devices []procDevice, code uint16) (string, error) {
	for _, d := range devices {
		if !d.hasHandler("sysrq") {
			continue
		}
		node := d.eventNode()
		if node == "" || !d.hasKey(code) {
			logger.Debugf("Skipping keyboard %q", d.Name)
			continue
		}
		return node, nil
	}
	return "", ErrNoKeyboard
}

func findFromEvdev(code uint16) (string, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return "", fmt.Errorf("failed to list input devices: %w", err)
	}
	sort.Slice(paths, func(i, j int) bool {
		return paths[i].Path < paths[j].Path
	})

	var permissionErrors int
	for _, p := range paths {
		dev, err := evdev.OpenWithFlags(p.Path, os.O_RDONLY)
		if err != nil {
			if os.IsPermission(err) {
				permissionErrors++
			}
			logger.Debugf("Cannot open %s: %v", p.Path, err)
			continue
		}

		name := p.Name
		if actual, err := dev.Name(); err == nil && actual != "" {
			name = actual
		}
		usable := !deviceIsVirtual(dev, name) && deviceSupportsKeys(dev, code, uint16(evdev.KEY_A))
		dev.Close()

		if usable {
			return p.Path, nil
		}
		logger.Debugf("Skipping non-keyboard device: %s (%s)", p.Path, name)
	}

	if permissionErrors > 0 {
		return "", fmt.Errorf("%w: %d input devices could not be opened, ensure the user is in the 'input' group", ErrNoKeyboard, permissionErrors)
	}
	return "", ErrNoKeyboard
}

func deviceSupportsKeys(dev *evdev.InputDevice, codes ...uint16) bool {
	supported := make(map[evdev.EvCode]struct{})
	for _, c := range dev.CapableEvents(evdev.EV_KEY) {
		supported[c] = struct{}{}
	}
	for _, code := range codes {
		if _, ok := supported[evdev.EvCode(code)]; !ok {
			return false
		}
	}
	return true
}

func deviceIsVirtual(dev *evdev.InputDevice, name string) bool {
	id, err := dev.InputID()
	if err == nil && id.BusType == uint16(evdev.BUS_VIRTUAL) {
		return true
	}
	lower := strings.ToLower(name)
	for _, token := range []string{"virtual", "uinput", "ydotool"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
