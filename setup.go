package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultInputPresent = "com.webos.app.hdmi2"
	defaultInputAbsent  = "com.webos.app.hdmi3"
)

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func promptYesNo(r *bufio.Reader, label string, def bool) bool {
	hint := "Y/n"
	if !def {
		hint = "y/N"
	}
	line := prompt(r, fmt.Sprintf("%s (%s)", label, hint), "")
	if line == "" {
		return def
	}
	return strings.EqualFold(line, "y") || strings.EqualFold(line, "yes")
}

// runSetup is the first-run wizard: it pairs with the TV, picks the
// keyboard to track and writes the config file.
func runSetup() error {
	r := bufio.NewReader(os.Stdin)

	fmt.Println("=== TV Address ===")
	fmt.Println("Find the TV's IP address in its network settings or your")
	fmt.Println("router's client list (automatic discovery is not supported).")
	var addr string
	for addr == "" {
		addr = prompt(r, "TV IP address", "")
	}

	creds, err := openCredentialStore(credentialsPath())
	if err != nil {
		return err
	}

	fmt.Println("\n=== TV Pairing ===")
	fmt.Println("A pairing prompt will appear on the TV screen.")
	fmt.Println("Accept it with the remote to continue.")
	tv, err := dialTV(addr, creds)
	if err != nil {
		return fmt.Errorf("pair with TV: %w", err)
	}
	fmt.Println("Paired with TV.")

	inputPresent := prompt(r, "\nInput when keyboard is connected", defaultInputPresent)
	inputAbsent := prompt(r, "Input when keyboard is disconnected", defaultInputAbsent)

	if promptYesNo(r, "Test switching between the two inputs now?", true) {
		for _, input := range []string{inputPresent, inputAbsent} {
			fmt.Printf("Switching to %s...\n", input)
			if err := tv.LaunchApp(input); err != nil {
				tv.Close()
				return fmt.Errorf("switch to %s: %w", input, err)
			}
			time.Sleep(2 * time.Second)
		}
		fmt.Println("TV control test successful.")
	}
	tv.Close()

	fmt.Println("\n=== Keyboard Detection ===")
	target, err := pickKeyboard(r)
	if err != nil {
		return err
	}

	wake := promptYesNo(r, "\nTurn the TV screen on when the keyboard connects?", true)

	cfg := &Config{
		DeviceAddress:       addr,
		InputWhenPresent:    inputPresent,
		InputWhenAbsent:     inputAbsent,
		WakeScreenOnConnect: &wake,
		TargetDevice:        target,
	}
	if err := saveConfig(configPath(), cfg); err != nil {
		return err
	}

	fmt.Printf("\nConfiguration written to %s\n", configPath())
	fmt.Println("Start the monitor with: lgswitch daemon")
	return nil
}

// pickKeyboard enumerates attached USB keyboards and asks the user
// which one the daemon should track.
func pickKeyboard(r *bufio.Reader) (TargetDevice, error) {
	src, err := newInputWatcher()
	if err != nil {
		return TargetDevice{}, err
	}
	defer src.Close()

	devices, err := src.List()
	if err != nil {
		return TargetDevice{}, err
	}

	seen := make(map[string]bool)
	var keyboards []DeviceInfo
	for _, d := range devices {
		if d.Bus != "usb" || !d.Keyboard {
			continue
		}
		// A keyboard often exposes several event nodes; list it once.
		key := d.VendorID + ":" + d.ModelID
		if seen[key] {
			continue
		}
		seen[key] = true
		keyboards = append(keyboards, d)
	}
	if len(keyboards) == 0 {
		return TargetDevice{}, fmt.Errorf("no USB keyboards found — plug the keyboard in and rerun setup")
	}

	fmt.Println("Connected USB keyboards:")
	for i, k := range keyboards {
		fmt.Printf("  %d) %s (vendor %s, model %s)\n", i+1, k.Name, k.VendorID, k.ModelID)
	}

	for {
		choice := prompt(r, "Keyboard to track", "1")
		n, err := strconv.Atoi(choice)
		if err != nil || n < 1 || n > len(keyboards) {
			fmt.Printf("Enter a number between 1 and %d.\n", len(keyboards))
			continue
		}
		k := keyboards[n-1]
		return TargetDevice{
			Bus:         "usb",
			VendorID:    k.VendorID,
			ModelID:     k.ModelID,
			DisplayName: k.Name,
		}, nil
	}
}
