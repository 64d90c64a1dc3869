package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cutcell/vesta/internal/control"
	"github.com/cutcell/vesta/internal/orders"
)

var (
	orderIngredients []string
	orderFile        string
)

// orderCmd groups order book operations
var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Queue and inspect orders",
}

// orderAddCmd queues one order on the running daemon
var orderAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Queue an order on the running cell",
	Long: `Queue an order over the control plane. Each --ingredient takes
name=grams and repeats:

  vestactl --instance cell-01 order add "Small Fries" -i potato=100
  vestactl --instance cell-01 order add "Veggie Mix" -i carrot=80 -i onion=40`,
	Args: cobra.ExactArgs(1),
	RunE: runOrderAdd,
}

// orderListCmd prints the order file the daemon reads from
var orderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the orders in the book file",
	RunE:  runOrderList,
}

func init() {
	orderAddCmd.Flags().StringArrayVarP(&orderIngredients, "ingredient", "i", nil, "Ingredient as name=grams (repeatable)")
	orderListCmd.Flags().StringVar(&orderFile, "file", "config/orders.yaml", "Order book file")

	orderCmd.AddCommand(orderAddCmd)
	orderCmd.AddCommand(orderListCmd)
}

func runOrderAdd(cmd *cobra.Command, args []string) error {
	if len(orderIngredients) == 0 {
		return fmt.Errorf("at least one --ingredient name=grams is required")
	}

	ingredients := make(map[string]interface{}, len(orderIngredients))
	for _, spec := range orderIngredients {
		name, grams, err := parseIngredient(spec)
		if err != nil {
			return err
		}
		ingredients[name] = grams
	}

	resp, err := controlRequest(control.Command{
		Command: "add_order",
		Params: map[string]interface{}{
			"name":        args[0],
			"ingredients": ingredients,
		},
	})
	if err != nil {
		return err
	}

	fmt.Printf("queued %q as order %v\n", args[0], resp.Data["order_id"])
	return nil
}

// parseIngredient splits name=grams
func parseIngredient(spec string) (string, float64, error) {
	name, value, found := strings.Cut(spec, "=")
	if !found || name == "" {
		return "", 0, fmt.Errorf("ingredient %q: want name=grams", spec)
	}
	grams, err := strconv.ParseFloat(value, 64)
	if err != nil || grams <= 0 {
		return "", 0, fmt.Errorf("ingredient %q: grams must be a positive number", spec)
	}
	return name, grams, nil
}

func runOrderList(cmd *cobra.Command, args []string) error {
	book, err := orders.NewBook(orderFile)
	if err != nil {
		return err
	}
	defer book.Close()

	all := book.Orders()
	if len(all) == 0 {
		fmt.Println("order book is empty")
		return nil
	}

	for _, o := range all {
		names := make([]string, 0, len(o.Ingredients))
		for name := range o.Ingredients {
			names = append(names, name)
		}
		sort.Strings(names)

		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s %.0fg", name, o.Ingredients[name]))
		}
		fmt.Printf("%-28s %-12s %s\n", o.Name, o.Status, strings.Join(parts, ", "))
	}
	return nil
}
