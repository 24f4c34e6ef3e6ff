package utils

import "fmt"

type NamedCloser struct {
	Name  string
	Close func() error
}

// NamedClosers is closed in order unless CloseOpt.ReverseOrder is set.
type NamedClosers []NamedCloser

type CloseOpt struct {
	ReverseOrder bool
	Output       func(...any)
	ErrorOutput  func(...any)
}

func (closers NamedClosers) Close(opt *CloseOpt) {
	if len(closers) == 0 {
		return
	}
	if opt == nil {
		opt = &CloseOpt{}
	}
	output, errorOutput := opt.Output, opt.ErrorOutput
	if output == nil {
		output = func(...any) {}
	}
	if errorOutput == nil {
		errorOutput = func(...any) {}
	}

	for i := range closers {
		c := closers[i]
		if opt.ReverseOrder {
			c = closers[len(closers)-1-i]
		}
		if err := c.Close(); err != nil {
			errorOutput(fmt.Sprintf("Fail to close %s error=%s", c.Name, err))
		} else {
			output(fmt.Sprintf("Closed %s", c.Name))
		}
	}
}
