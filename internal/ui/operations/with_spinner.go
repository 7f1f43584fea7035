package operations

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ignitionstack/ember/internal/ui"
	"github.com/ignitionstack/ember/internal/ui/models/spinner"
)

type OperationFunc func() (interface{}, error)

type DisplayFunc func(result interface{}, elapsed time.Duration)

// WithSpinner runs operation while a spinner shows message, then hands the
// result to display. In CI, or with plain set, no spinner is drawn.
func WithSpinner(message string, plain bool, operation OperationFunc, display DisplayFunc) error {
	if plain || ui.IsCI() {
		start := time.Now()
		result, err := operation()
		if err != nil {
			return err
		}
		if display != nil {
			display(result, time.Since(start))
		}
		return nil
	}

	program := tea.NewProgram(spinner.NewSpinnerModelWithMessage(message))

	go func() {
		start := time.Now()
		result, err := operation()
		if err != nil {
			program.Send(err)
			return
		}
		program.Send(spinner.ResultMsg{Result: result, Elapsed: time.Since(start)})
	}()

	model, err := program.Run()
	if err != nil {
		return err
	}

	finalModel, ok := model.(spinner.SpinnerModel)
	if !ok {
		return fmt.Errorf("program finished with invalid model")
	}
	if finalModel.HasError() {
		return finalModel.GetError()
	}

	if display != nil {
		display(finalModel.GetResult(), finalModel.Elapsed())
	}
	return nil
}
