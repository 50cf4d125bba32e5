//go:build darwin || freebsd

package tundevice

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/wesleywu/pfnetmon/internal/hostaddr"
)

// bsdDriver allocates utun/tun devices by shelling out to ifconfig,
// the same strategy the teacher uses for operations that are awkward
// to drive over a raw socket (route flushing, default-route queries
// in internal/routing/platform/bsd.go).
type bsdDriver struct{}

// NewDriver returns the BSD tunnel-device driver.
func NewDriver() Driver {
	return bsdDriver{}
}

func (bsdDriver) Create() (Device, error) {
	out, err := exec.Command("ifconfig", "tun", "create").Output()
	if err != nil {
		return nil, fmt.Errorf("tundevice: failed to create tunnel device: %w", err)
	}
	name := strings.TrimSpace(string(out))
	if name == "" {
		return nil, fmt.Errorf("tundevice: ifconfig tun create returned no interface name")
	}
	return &bsdDevice{name: name}, nil
}

type bsdDevice struct {
	name string
}

func (d *bsdDevice) Name() string { return d.name }

func (d *bsdDevice) Up() error {
	if err := exec.Command("ifconfig", d.name, "up").Run(); err != nil {
		return fmt.Errorf("tundevice: failed to bring %s up: %w", d.name, err)
	}
	return nil
}

func (d *bsdDevice) SetAddress(addr hostaddr.Address, prefixLen int) error {
	ip := addr.NetIP().String()
	cidr := ip + "/" + strconv.Itoa(prefixLen)
	family := "inet"
	if addr.Family() == hostaddr.IPv6 {
		family = "inet6"
	}
	if err := exec.Command("ifconfig", d.name, family, cidr, ip).Run(); err != nil {
		return fmt.Errorf("tundevice: failed to assign %s to %s: %w", cidr, d.name, err)
	}
	return nil
}

func (d *bsdDevice) Close() error {
	if err := exec.Command("ifconfig", d.name, "destroy").Run(); err != nil {
		return fmt.Errorf("tundevice: failed to destroy %s: %w", d.name, err)
	}
	return nil
}
