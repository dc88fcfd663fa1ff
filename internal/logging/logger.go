package logging

import (
	"log"
	"os"
)

var (
	S3       = log.New(os.Stdout, "[s3] ", log.LstdFlags)
	Extract  = log.New(os.Stdout, "[extract] ", log.LstdFlags)
	Sweeper  = log.New(os.Stdout, "[sweeper] ", log.LstdFlags)
	Internal = log.New(os.Stdout, "[internal] ", log.LstdFlags)
	HTTP     = log.New(os.Stdout, "[http] ", log.LstdFlags)
)
