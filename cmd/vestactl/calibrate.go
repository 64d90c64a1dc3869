package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cutcell/vesta/internal/config"
	"github.com/cutcell/vesta/internal/scale"
)

var (
	calibrateConfigPath string
	calibrateKnown      float64
	calibrateSamples    int
	calibrateWrite      bool
)

// calibrateCmd computes the scale's reference unit from a known weight
var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Compute the scale reference unit from a known weight",
	Long: `Walk the scale calibration: tare with the tray empty, place a known
weight when prompted, and read the computed reference unit. With
--write the value lands in the config file's scale.reference_unit.

Run this on the cell host with vestad stopped; the HX711 cannot be
shared between processes.`,
	RunE: runCalibrate,
}

func init() {
	calibrateCmd.Flags().StringVar(&calibrateConfigPath, "config", "config/vesta.yaml", "Config file with the scale pins")
	calibrateCmd.Flags().Float64Var(&calibrateKnown, "known", 0, "Known weight in grams (required)")
	calibrateCmd.Flags().IntVar(&calibrateSamples, "samples", 25, "Samples averaged per measurement")
	calibrateCmd.Flags().BoolVar(&calibrateWrite, "write", false, "Write the result into the config file")
	calibrateCmd.MarkFlagRequired("known")
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	if calibrateKnown <= 0 {
		return fmt.Errorf("--known must be a positive weight in grams")
	}

	// Parse without validating: before the first calibration the config
	// legitimately has no reference_unit yet.
	data, err := os.ReadFile(calibrateConfigPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Scale.DoutPin == 0 || cfg.Scale.SckPin == 0 {
		return fmt.Errorf("config has no hardware scale (scale.dout_pin/sck_pin unset)")
	}

	// Reference unit 1 keeps the chip in raw counts until calibrated
	hw, err := scale.NewHX711(scale.HX711Config{
		DoutPin:       cfg.Scale.DoutPin,
		SckPin:        cfg.Scale.SckPin,
		ReferenceUnit: 1,
		TareSamples:   cfg.Scale.TareSamples,
	})
	if err != nil {
		return err
	}
	defer hw.Close()

	stdin := bufio.NewReader(os.Stdin)

	fmt.Println("Empty the tray completely, then press enter to tare.")
	if _, err := stdin.ReadString('\n'); err != nil {
		return fmt.Errorf("aborted: %w", err)
	}
	if err := hw.Tare(); err != nil {
		return err
	}

	fmt.Printf("Place the known %.1fg weight on the tray, then press enter.\n", calibrateKnown)
	if _, err := stdin.ReadString('\n'); err != nil {
		return fmt.Errorf("aborted: %w", err)
	}

	refUnit, err := hw.Calibrate(calibrateKnown, calibrateSamples)
	if err != nil {
		return err
	}

	fmt.Printf("reference unit: %.4f counts per gram\n", refUnit)

	if grams, ok := hw.Read(calibrateSamples); ok {
		fmt.Printf("check reading:  %.2fg (expected %.1fg)\n", grams, calibrateKnown)
	}

	if !calibrateWrite {
		fmt.Printf("set scale.reference_unit: %.4f in %s to apply\n", refUnit, calibrateConfigPath)
		return nil
	}

	if err := writeReferenceUnit(calibrateConfigPath, data, refUnit); err != nil {
		return err
	}
	fmt.Printf("wrote scale.reference_unit to %s\n", calibrateConfigPath)
	return nil
}

// writeReferenceUnit updates scale.reference_unit in place, going
// through the node tree so the operator's comments survive
func writeReferenceUnit(path string, data []byte, refUnit float64) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse config for rewrite: %w", err)
	}
	if len(root.Content) == 0 {
		return fmt.Errorf("config file is empty")
	}

	doc := root.Content[0]
	scaleNode := mappingValue(doc, "scale")
	if scaleNode == nil {
		scaleNode = &yaml.Node{Kind: yaml.MappingNode}
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: "scale"},
			scaleNode,
		)
	}

	value := strconv.FormatFloat(refUnit, 'f', 4, 64)
	if ref := mappingValue(scaleNode, "reference_unit"); ref != nil {
		ref.Kind = yaml.ScalarNode
		ref.Tag = "!!float"
		ref.Value = value
	} else {
		scaleNode.Content = append(scaleNode.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: "reference_unit"},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: value},
		)
	}

	out, err := yaml.Marshal(&root)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// mappingValue returns the value node for a key in a mapping, or nil
func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
