package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

var cmds []*exec.Cmd

func main() {
	nodeCount := flag.Int("nodes", 20, "How many nodes to launch")
	startHTTPPort := flag.Int("http", 8000, "HTTP port of node 0; node N uses http+N")
	startUDPPort := flag.Int("udp", 9000, "UDP port of node 0; node N uses udp+N")
	projectRoot := flag.String("root", "../../", "Path to the directory holding main.go")
	dataDir := flag.String("data", "sim_data", "Directory for per-node logs")
	flag.Parse()

	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	absRoot, err := filepath.Abs(*projectRoot)
	if err != nil {
		log.Crit("Bad project root", "err", err)
	}
	mainGoPath := filepath.Join(absRoot, "main.go")
	bootstrapAddr := fmt.Sprintf("127.0.0.1:%d", *startUDPPort)
	log.Info("Launching network", "main", mainGoPath, "nodes", *nodeCount)

	os.RemoveAll(*dataDir)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Info("Stopping all nodes")
		for _, cmd := range cmds {
			if cmd.Process != nil {
				cmd.Process.Signal(os.Interrupt)
			}
		}
		os.Exit(0)
	}()

	for i := 0; i < *nodeCount; i++ {
		args := []string{
			"run", mainGoPath,
			"-ip", "127.0.0.1",
			"-port", strconv.Itoa(*startUDPPort + i),
			"-http", strconv.Itoa(*startHTTPPort + i),
		}
		if i == 0 {
			args = append(args, "-genesis")
		} else {
			args = append(args, "-bootstrap", bootstrapAddr)
		}
		if err := startNode(i, *dataDir, args); err != nil {
			log.Crit("Failed to start node", "node", i, "err", err)
		}

		if i == 0 {
			// give the genesis node time to compile and bind
			time.Sleep(2 * time.Second)
		} else {
			time.Sleep(500 * time.Millisecond)
		}
	}

	log.Info("Network is running", "nodes", *nodeCount,
		"genesis", fmt.Sprintf("http://localhost:%d/status", *startHTTPPort),
		"logs", filepath.Join(*dataDir, "node_N", "node.log"))

	select {}
}

func startNode(id int, dataDir string, args []string) error {
	nodeDir := filepath.Join(dataDir, fmt.Sprintf("node_%d", id))
	if err := os.MkdirAll(nodeDir, 0o755); err != nil {
		return err
	}

	logFile, err := os.Create(filepath.Join(nodeDir, "node.log"))
	if err != nil {
		return err
	}

	cmd := exec.Command("go", args...)
	cmd.Dir = nodeDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return err
	}

	cmds = append(cmds, cmd)
	log.Info("Node running", "node", id, "args", args[2:])
	return nil
}
