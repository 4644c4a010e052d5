package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"cardscan/pkg/ocr"
)

// Runs one or more still images through the same preprocessing, OCR and
// extraction the live scanner uses, and prints what would be dialed.
func main() {
	engineName := flag.String("engine", "cascade", "tesseract, barcode or cascade")
	lang := flag.String("lang", "eng", "tesseract language")
	savePre := flag.String("save-preproc", "", "write the binarized frame here (single file only)")
	raw := flag.Bool("raw", false, "print raw and normalized OCR text")
	flag.Parse()
	files := flag.Args()
	if len(files) == 0 {
		log.Fatalf("usage: cmd_scan_image [flags] image...")
	}

	eng, err := pickEngine(*engineName, *lang)
	if err != nil {
		log.Fatalf("%v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := eng.Init(ctx); err != nil {
		log.Fatalf("engine init: %v", err)
	}
	defer eng.Close()

	misses := 0
	for _, f := range files {
		img, err := imaging.Open(f)
		if err != nil {
			log.Printf("open %s: %v", f, err)
			misses++
			continue
		}
		frame := ocr.Frame(img)
		luma := ocr.MeanLuminance(frame)
		pre := ocr.Preprocess(frame)
		if *savePre != "" && len(files) == 1 {
			if err := imaging.Save(pre, *savePre); err != nil {
				log.Printf("save preproc: %v", err)
			}
		}
		res, err := eng.Recognize(ctx, pre, nil)
		if err != nil {
			log.Printf("ocr %s: %v", f, err)
			misses++
			continue
		}
		if *raw {
			fmt.Printf("%s luma=%.1f raw=%q normalized=%q engine=%s conf=%.2f took=%v\n",
				f, luma, strings.TrimSpace(res.Text), ocr.Normalize(res.Text), res.Engine, res.Confidence, res.Duration)
		}
		code, err := ocr.FindCode(res.Text)
		if errors.Is(err, ocr.ErrNoCode) {
			fmt.Printf("%s no code (text=%q)\n", f, ocr.Snippet(res.Text, 50))
			misses++
			continue
		}
		fmt.Printf("%s code=%s dial=%s\n", f, code, ocr.DialCode(code))
	}
	if misses > 0 {
		os.Exit(1)
	}
}

func pickEngine(name, lang string) (ocr.Engine, error) {
	tcfg := ocr.TesseractConfig{Language: lang, MinHeight: 600}
	switch name {
	case "tesseract":
		return ocr.NewTesseractEngine(tcfg), nil
	case "barcode":
		return ocr.NewBarcodeEngine(), nil
	case "cascade":
		return ocr.NewCascade(ocr.NewBarcodeEngine(), ocr.NewTesseractEngine(tcfg)), nil
	}
	return nil, fmt.Errorf("unknown engine %q", name)
}
