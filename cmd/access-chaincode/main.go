package main

import (
	"log"
	"os"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/medrex/consent-ledger/internal/contract"
	"github.com/medrex/consent-ledger/pkg/logger"
)

func main() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	consentChaincode, err := contractapi.NewChaincode(contract.NewSmartContract(logger.New(level)))
	if err != nil {
		log.Panicf("Error creating consent ledger chaincode: %v", err)
	}

	if err := consentChaincode.Start(); err != nil {
		log.Panicf("Error starting consent ledger chaincode: %v", err)
	}
}
