package main

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/urfave/cli"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/omniwatch/omniwatch_display/co5300"
)

const tickInterval = 50 * time.Millisecond

// Config represents the overall config JSON.
type Config struct {
	SPIPort       string `json:"spi_port"`
	ResetPin      string `json:"reset_pin"`
	ButtonDevice  string `json:"button_device"`
	EncoderDevice string `json:"encoder_device"`
	AssetsDir     string `json:"assets_dir"`
	FontsDir      string `json:"fonts_dir"`
	Brightness    int    `json:"brightness"`
}

// loadConfig reads and unmarshals the config file.
func loadConfig(path string) (Config, error) {
	cfg := Config{
		SPIPort:       "SPI1.0",
		ResetPin:      "GPIO122",
		ButtonDevice:  "omniwatch-buttons",
		EncoderDevice: "omniwatch-encoder",
		AssetsDir:     "assets",
		FontsDir:      "assets/fonts",
		Brightness:    defaultBrightness,
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	err = json.Unmarshal(data, &cfg)
	return cfg, err
}

func main() {
	app := cli.NewApp()
	app.Name = "omniwatch-display"
	app.Usage = "watch face firmware for the CO5300 round AMOLED"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: "config.json",
			Usage: "path to the config JSON",
		},
		cli.BoolFlag{
			Name:  "sim",
			Usage: "render to the terminal instead of the panel",
		},
		cli.IntFlag{
			Name:  "frames",
			Usage: "exit after this many loop passes (0 = run forever)",
		},
	}
	app.Action = func(c *cli.Context) error {
		return run(c.String("config"), c.Bool("sim"), c.Int("frames"))
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cfgPath string, simMode bool, maxFrames int) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Printf("config: %v, using defaults", err)
	}

	assets, err := LoadAssets(cfg.AssetsDir)
	if err != nil {
		return err
	}

	pending := &PendingInput{}
	opts := co5300.DefaultOpts()

	var disp *co5300.Dev
	var sim *SimPanel

	if simMode {
		sim, err = NewSimPanel(opts.W, opts.H, opts.XOffset, opts.YOffset)
		if err != nil {
			return err
		}
		defer sim.Close()
		opts.RST = nil
		disp, err = co5300.New(sim, opts)
		if err != nil {
			return err
		}
	} else {
		if _, err := host.Init(); err != nil {
			return err
		}
		spiPort, err := spireg.Open(cfg.SPIPort)
		if err != nil {
			return err
		}
		defer spiPort.Close()

		opts.RST = gpioreg.ByName(cfg.ResetPin)
		disp, err = co5300.NewSPI(spiPort, opts)
		if err != nil {
			return err
		}
		defer disp.Halt()

		if dev, err := findInputDevice(cfg.ButtonDevice); err != nil {
			log.Printf("buttons: %v", err)
		} else {
			go monitorButtons(dev, pending)
		}
		if dev, err := findInputDevice(cfg.EncoderDevice); err != nil {
			log.Printf("encoder: %v", err)
		} else {
			go monitorEncoder(dev, pending)
		}
	}

	clock := newOffsetClock()
	engine := NewEngine(clock, assets.FrameCount("transform"), func(percent int) {
		if err := disp.SetBrightness(byte(percent * 255 / 100)); err != nil {
			log.Fatalf("display: %v", err)
		}
	})
	renderer := NewRenderer(disp, assets, cfg.FontsDir)

	if cfg.Brightness >= 0 && cfg.Brightness <= 100 {
		if err := disp.SetBrightness(byte(cfg.Brightness * 255 / 100)); err != nil {
			return err
		}
	}

	log.Printf("display up: %s", disp)

	screenOff := false
	frames := 0
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for range ticker.C {
		if maxFrames > 0 {
			frames++
			if frames > maxFrames {
				return nil
			}
		}
		if sim != nil && !sim.Update(pending) {
			return nil
		}

		for _, ev := range pending.Drain() {
			// While the screen is off, the only event that means anything
			// is the wake press.
			if screenOff {
				if ev.Kind == EventSelect {
					if err := disp.SetPower(true); err != nil {
						log.Fatalf("display: %v", err)
					}
					screenOff = false
					engine.ForceRedraw()
				}
				continue
			}
			engine.Handle(ev)
		}

		if !screenOff {
			engine.Tick()
		}

		if engine.TakePowerIntent() && !screenOff {
			if err := disp.SetPower(false); err != nil {
				log.Fatalf("display: %v", err)
			}
			screenOff = true
			continue
		}

		if !screenOff && engine.Redraw() {
			renderer.Render(engine.Current(), engine.TakeRedraw(), engine.Brightness())
		}
	}
	return nil
}
